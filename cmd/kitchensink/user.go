package main

import (
	"context"
	"errors"
	"os"

	"github.com/WessleyAI/kitchensink/engine/account"
	"github.com/WessleyAI/kitchensink/engine/record"
	"github.com/spf13/cobra"
)

// whoami is the view of the signed-in account.
type whoami struct {
	Status       string            `json:"status"`
	UserRecordID string            `json:"user_record_id,omitempty"`
	Identity     *account.Identity `json:"identity,omitempty"`
	Name         string            `json:"name,omitempty"`
	Avatar       *record.Asset     `json:"avatar,omitempty"`
}

// describeAccount resolves the account status and, when available, the
// user record and identity. A missing discoverability permission leaves
// the name as "NOT AUTHORIZED" instead of failing.
func describeAccount(ctx context.Context, svc *account.Service) (whoami, error) {
	status, err := svc.Status(ctx)
	out := whoami{Status: status.String()}
	if err != nil || status != account.Available {
		return out, err
	}
	id, err := svc.UserRecordID(ctx)
	if err != nil {
		return out, err
	}
	out.UserRecordID = id

	user, err := svc.UserRecord(ctx)
	if err != nil {
		return out, err
	}
	if a, ok := user.Fields[account.AvatarField].Asset(); ok {
		out.Avatar = &a
	}

	ident, err := svc.DiscoverIdentity(ctx, id)
	switch {
	case errors.Is(err, account.ErrPermissionDenied):
		out.Name = "NOT AUTHORIZED"
	case err != nil:
		return out, err
	default:
		out.Identity = &ident
		out.Name = ident.DisplayName()
	}
	return out, nil
}

func newUserCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Inspect the signed-in account",
	}

	who := &cobra.Command{
		Use:   "whoami",
		Short: "Print the account status, user record ID and identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd.Context(), func(s *services) error {
				w, err := describeAccount(cmd.Context(), s.accounts)
				if perr := printJSON(cmd.OutOrStdout(), w); perr != nil {
					return perr
				}
				return err
			})
		},
	}

	discover := &cobra.Command{
		Use:   "discover",
		Short: "List other discoverable users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd.Context(), func(s *services) error {
				ids, err := s.accounts.DiscoverAll(cmd.Context())
				if err != nil {
					return err
				}
				a.logger.Info("discovered users", "count", len(ids))
				return printJSON(cmd.OutOrStdout(), ids)
			})
		},
	}

	avatar := &cobra.Command{
		Use:   "avatar <file.png>",
		Short: "Replace the avatar of the signed-in user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return a.withServices(cmd.Context(), func(s *services) error {
				asset, err := s.accounts.UpdateAvatar(cmd.Context(), f)
				if err != nil {
					if asset.Key != "" {
						a.logger.Info("keeping previous avatar", "key", asset.Key)
					}
					return err
				}
				return printJSON(cmd.OutOrStdout(), asset)
			})
		},
	}

	cmd.AddCommand(who, discover, avatar)
	return cmd
}
