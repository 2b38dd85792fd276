package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"
)

// configSection is the optional top-level key holding linkpreview settings,
// so the options can live in a shared site configuration file.
const configSection = "linkpreview"

// YAMLLoader reads flag defaults from YAML. Keys are flag names, with dashes
// or underscores:
//
//	cache-dir: _cache
//	empty_ttl: 24h
//
// The same keys may instead sit under a top-level "linkpreview" section.
func YAMLLoader(r io.Reader) (kong.Resolver, error) {
	values := map[string]any{}
	if err := yaml.NewDecoder(r).Decode(&values); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if section, ok := values[configSection].(map[string]any); ok {
		values = section
	}

	return kong.ResolverFunc(func(kctx *kong.Context, parent *kong.Path, flag *kong.Flag) (any, error) {
		for _, name := range []string{flag.Name, strings.ReplaceAll(flag.Name, "-", "_")} {
			if v, ok := values[name]; ok {
				return configValue(v), nil
			}
		}
		return nil, nil
	}), nil
}

// configValue flattens a YAML value into the string form kong's mappers
// parse: lists are comma separated and maps are key=value pairs joined by
// semicolons.
func configValue(v any) any {
	switch v := v.(type) {
	case nil:
		return nil
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ",")
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+fmt.Sprint(v[k]))
		}
		return strings.Join(parts, ";")
	default:
		return fmt.Sprint(v)
	}
}
