// Package llm contains adapters for invoking large language models. It hides
// provider-specific APIs behind a single Generate call that returns the raw
// completion text for the plan pipeline to coerce.
package llm
