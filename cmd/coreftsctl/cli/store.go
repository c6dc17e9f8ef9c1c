package cli

import (
	"fmt"

	"github.com/go-mizu/corefts/config"
	"github.com/go-mizu/corefts/mapping"
	"github.com/go-mizu/corefts/schema"
	"github.com/go-mizu/corefts/store"
)

// textField is the single field every document coreftsctl indexes under.
// A real deployment defines its own schema through the Store API directly;
// the CLI only needs one field to demonstrate the full index/search/merge
// lifecycle end to end.
const textField = "text"

// storeHandle wraps a *store.Store opened with coreftsctl's one
// pre-registered field.
type storeHandle struct {
	*store.Store
}

func newStoreHandle(path string) (*storeHandle, error) {
	s, err := store.Open(config.Default(path))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if _, err := s.DefineField(mapping.Field{
		Name:       textField,
		Type:       schema.Text,
		IsIndexed:  true,
		IsAnalyzed: true,
		IsStored:   true,
		IsInAll:    true,
		Boost:      1,
	}); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("define %s field: %w", textField, err)
	}
	return &storeHandle{Store: s}, nil
}
