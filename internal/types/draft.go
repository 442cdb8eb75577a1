package types

// DocumentDraft is an in-memory candidate document produced by the
// transformer. It is not persisted; the orchestrator embeds its searchable
// text and converts it into a Document.
type DocumentDraft struct {
	DocType               string
	Content               map[string]any
	SummaryText           string
	HypotheticalQuestions []string
	SearchableText        string
	DataSources           []string
	IsFallback            bool
}
