package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/kitchensink/engine/record"
	"github.com/spf13/cobra"
)

// parseField parses name[:kind]=value. The kind defaults to string.
func parseField(s string) (string, record.Value, error) {
	key, raw, ok := strings.Cut(s, "=")
	if !ok {
		return "", record.Value{}, fmt.Errorf("field %q: want name[:kind]=value", s)
	}
	name, kind, _ := strings.Cut(key, ":")
	if err := record.ValidateField(name); err != nil {
		return "", record.Value{}, err
	}
	switch kind {
	case "", "string":
		return name, record.StringValue(raw), nil
	case "int", "integer":
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return "", record.Value{}, record.NewValidationError(name, raw, record.ErrInvalidValue)
		}
		return name, record.IntValue(i), nil
	case "number":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return "", record.Value{}, record.NewValidationError(name, raw, record.ErrInvalidValue)
		}
		return name, record.NumberValue(f), nil
	case "time":
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return "", record.Value{}, record.NewValidationError(name, raw, record.ErrInvalidDate)
		}
		return name, record.TimeValue(t), nil
	case "date":
		t, err := record.ParseReleaseDate(raw)
		if err != nil {
			return "", record.Value{}, err
		}
		return name, record.TimeValue(t), nil
	case "location":
		loc, err := record.ParseLocation(raw)
		if err != nil {
			return "", record.Value{}, err
		}
		return name, record.LocationValue(loc), nil
	default:
		return "", record.Value{}, fmt.Errorf("field %q: unknown kind %q", name, kind)
	}
}

func newRecordCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Save, fetch and delete records",
	}

	var (
		recordType string
		id         string
		fields     []string
	)
	save := &cobra.Command{
		Use:   "save",
		Short: "Create a record, or update it when --id names an existing one",
		Example: `  kitchensink record save --field title=Heat --field releaseDate:date=1995-12-15 --field rating:int=5
  kitchensink record save --id 5d9f... --field location:location=34.05,-118.24`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd.Context(), func(s *services) error {
				rec := record.New(recordType)
				if id != "" {
					prev, err := s.db.Fetch(cmd.Context(), record.ID(id))
					if err == nil {
						rec = prev
					} else {
						rec.ID = record.ID(id)
					}
				}
				for _, f := range fields {
					name, v, err := parseField(f)
					if err != nil {
						return err
					}
					rec.Set(name, v)
				}
				if err := s.registry.Guard(cmd.Context(), rec); err != nil {
					return err
				}
				saved, err := s.db.Save(cmd.Context(), rec)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), saved)
			})
		},
	}
	save.Flags().StringVar(&recordType, "type", record.MovieType, "record type of a new record")
	save.Flags().StringVar(&id, "id", "", "record ID")
	save.Flags().StringArrayVar(&fields, "field", nil, "field as name[:kind]=value; kind is string, int, number, time, date or location")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Print one record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd.Context(), func(s *services) error {
				rec, err := s.db.Fetch(cmd.Context(), record.ID(args[0]))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rec)
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd.Context(), func(s *services) error {
				return s.db.Delete(cmd.Context(), record.ID(args[0]))
			})
		},
	}

	types := &cobra.Command{
		Use:   "types",
		Short: "List the record types in the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd.Context(), func(s *services) error {
				types, err := s.db.RecordTypes(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), types)
			})
		},
	}

	cmd.AddCommand(save, get, del, types)
	return cmd
}
