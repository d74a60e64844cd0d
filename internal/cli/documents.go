package cli

import (
	"github.com/spf13/cobra"

	draftsync "github.com/jdziat/simple-draft-sync"
)

// FieldOptions holds the --field flag shared by create and save.
type FieldOptions struct {
	*RootOptions
	Fields []string
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FieldOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a document",
		Long: `Create a document with initial fields and print it as JSON.

Example:
  draftsync create --field title="Quarterly report" --field pages=4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseFields(opts.Fields)
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			client, done, err := openClient(ctx, opts.RootOptions)
			if err != nil {
				return err
			}
			defer done()

			doc, err := client.Create(ctx, draftsync.FieldsFromMap(fields))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), doc)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Fields, "field", "f", nil, "field as key=value (repeatable)")
	return cmd
}

// NewSaveCommand creates the save command.
func NewSaveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FieldOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "save <document-id>",
		Short: "Save fields to a document",
		Long: `Open a document, merge the given fields and write them immediately.
When the service is unreachable the edit is queued in the local store and
replayed by "draftsync sync".

Example:
  draftsync save 7f3c --field title=Final`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseFields(opts.Fields)
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			client, done, err := openClient(ctx, opts.RootOptions)
			if err != nil {
				return err
			}
			defer done()

			id := args[0]
			if _, err := client.Open(ctx, id); err != nil {
				return err
			}
			if err := client.Save(id, fields); err != nil {
				return err
			}
			if err := client.Flush(ctx, id); err != nil {
				return err
			}
			doc, err := client.GetDocument(id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), doc)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Fields, "field", "f", nil, "field as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}
