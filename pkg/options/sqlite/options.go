// Package sqliteopts provides options for the SQLite keyword index.
package sqliteopts

import (
	"fmt"

	"github.com/spf13/pflag"
)

// Options contains SQLite configuration.
type Options struct {
	// Path is the database file path. ":memory:" keeps the index in memory.
	Path string `json:"path" mapstructure:"path"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Path: "data/medqa.db",
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Path, "sqlite.path", o.Path, "SQLite database file path for the keyword index.")
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Path == "" {
		errs = append(errs, fmt.Errorf("sqlite path is required"))
	}
	return errs
}
