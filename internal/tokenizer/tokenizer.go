// Package tokenizer counts prompt tokens with tiktoken encodings.
package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is used when the model has no registered encoding.
const DefaultEncoding = "cl100k_base"

// BPE ranks come from the embedded offline loader, never from the network.
var useOfflineLoader = sync.OnceFunc(func() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
})

// Counter counts tokens for one encoding. It is safe for concurrent use.
type Counter struct {
	enc      *tiktoken.Tiktoken
	encoding string
}

// New resolves the encoding for model, falling back to treating name as an
// encoding name and finally to DefaultEncoding.
func New(name string) (*Counter, error) {
	useOfflineLoader()

	if enc, err := tiktoken.EncodingForModel(name); err == nil {
		return &Counter{enc: enc, encoding: "model:" + name}, nil
	}
	if enc, err := tiktoken.GetEncoding(name); err == nil {
		return &Counter{enc: enc, encoding: name}, nil
	}
	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("loading %s encoding: %w", DefaultEncoding, err)
	}
	return &Counter{enc: enc, encoding: DefaultEncoding}, nil
}

// Encoding reports how the encoding was resolved: "model:<name>" when the
// model is registered, otherwise the encoding name.
func (c *Counter) Encoding() string {
	return c.encoding
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}
