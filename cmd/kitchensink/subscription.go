package main

import (
	"context"
	"errors"

	"github.com/WessleyAI/kitchensink/engine/subscription"
	"github.com/WessleyAI/kitchensink/pkg/prefs"
	"github.com/spf13/cobra"
)

type toggleResult struct {
	Subscribed     bool   `json:"subscribed"`
	SubscriptionID string `json:"subscription_id,omitempty"`
}

func newSubscriptionCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscription",
		Short: "Manage the new-movie subscription",
	}

	toggle := &cobra.Command{
		Use:   "toggle",
		Short: "Subscribe to new movies, or cancel the active subscription",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := prefs.Open(a.cfg.Prefs)
			if err != nil {
				return err
			}
			return a.withServices(cmd.Context(), func(s *services) error {
				c := subscription.NewClient(s.registry, p,
					subscription.WithActivity(s.activity),
					subscription.WithLogger(a.logger),
				)
				on, err := c.Toggle(cmd.Context())
				if err != nil {
					return err
				}
				id, _ := c.Current()
				return printJSON(cmd.OutOrStdout(), toggleResult{Subscribed: on, SubscriptionID: id})
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored subscriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd.Context(), func(s *services) error {
				subs, err := s.registry.List(cmd.Context())
				if err != nil {
					return err
				}
				if subs == nil {
					subs = []subscription.Subscription{}
				}
				return printJSON(cmd.OutOrStdout(), subs)
			})
		},
	}

	watch := &cobra.Command{
		Use:   "watch [id]",
		Short: "Print notifications of a subscription until interrupted",
		Long:  "Print notifications of a subscription until interrupted. Without an id the active subscription is watched.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.NATSURL == "" {
				return errors.New("watch needs --nats-url")
			}
			id := ""
			if len(args) == 1 {
				id = args[0]
			} else {
				p, err := prefs.Open(a.cfg.Prefs)
				if err != nil {
					return err
				}
				v, ok := p.Get(subscription.PrefKey)
				if !ok || v == "" {
					return subscription.ErrNotSubscribed
				}
				id = v
			}
			return a.withServices(cmd.Context(), func(s *services) error {
				out := make(chan subscription.Notification, 16)
				sub, err := subscription.Watch(s.nc, id, func(_ context.Context, n subscription.Notification) {
					select {
					case out <- n:
					default:
						a.logger.Warn("notification dropped", "subscription", n.SubscriptionID, "id", n.RecordID)
					}
				})
				if err != nil {
					return err
				}
				defer sub.Unsubscribe()
				a.logger.Info("watching subscription", "subscription", id)
				for {
					select {
					case n := <-out:
						if err := printJSON(cmd.OutOrStdout(), n); err != nil {
							return err
						}
					case <-cmd.Context().Done():
						return nil
					}
				}
			})
		},
	}

	cmd.AddCommand(toggle, list, watch)
	return cmd
}
