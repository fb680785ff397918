package config

import (
	"flag"
	"fmt"
)

// ExplicitFlags returns the flags set on the command line with their values.
// Uses fs.Visit, which only visits flags that were set.
func ExplicitFlags(fs *flag.FlagSet) map[string]string {
	explicit := make(map[string]string)
	fs.Visit(func(f *flag.Flag) {
		explicit[f.Name] = f.Value.String()
	})
	return explicit
}

// reapplyFlags sets the explicit flags again after the YAML overlay so the
// command line wins over the file.
func reapplyFlags(fs *flag.FlagSet, explicit map[string]string) error {
	for name, value := range explicit {
		if err := fs.Set(name, value); err != nil {
			return fmt.Errorf("flag -%s: %w", name, err)
		}
	}
	return nil
}
