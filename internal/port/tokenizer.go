package port

// Tokenizer breaks text into the token unit the embedding model consumes.
// Concatenating the pieces returned by Split yields the input text.
type Tokenizer interface {
	Split(text string) []string

	CountTokens(text string) int

	Name() string
}
