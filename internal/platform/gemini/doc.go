// Package gemini implements the generation boundary and the attachment
// uploader using Google's Gemini API.
//
// The GeminiGenerator handles chat replies, conversation titles and image
// generation with exponential-backoff retries for transient API failures.
// The GeminiUploader streams file uploads through the Gemini Files API.
package gemini
