package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xtrntr/marketplace/internal/exchange"
	"github.com/xtrntr/marketplace/internal/models"
)

const timeLayout = "2006-01-02 15:04:05.000"

// addCommands attaches the marketplace subcommands to root
func addCommands(root *cobra.Command, a *app) {
	root.AddCommand(
		createUserCmd(a),
		createItemCmd(a),
		submitOrderCmd(a),
		cancelOrderCmd(a),
		queryOrderBookCmd(a),
		queryTradeHistoryCmd(a),
		queryMetricsCmd(a),
	)
}

func createUserCmd(a *app) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "create-user NAME",
		Short: "Creates a new user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if password != "" {
				u, err := a.auth.Register(ctx, args[0], password)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "User %s registered with ID %d.\n", u.Name, u.ID)
				return nil
			}
			u, err := a.catalog.CreateUser(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %s has ID %d.\n", u.Name, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Password for API login")
	return cmd
}

func createItemCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create-item NAME",
		Short: "Creates a new item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			it, err := a.catalog.CreateItem(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Item %s has ID %d.\n", it.Name, it.ID)
			return nil
		},
	}
}

func submitOrderCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "submit-order USER ITEM SIDE KIND PRICE|NULL QUANTITY",
		Short: "Submits a buy or sell order",
		Long: "Submits a buy or sell order. USER and ITEM are ids or names, SIDE is BUY or SELL, " +
			"KIND is AT_PRICE or OPEN. Use NULL as the price of OPEN orders.",
		Args: cobra.ExactArgs(6),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			user, err := a.catalog.ResolveUser(ctx, args[0])
			if err != nil {
				return fmt.Errorf("invalid user ID or name %q", args[0])
			}
			item, err := a.catalog.ResolveItem(ctx, args[1])
			if err != nil {
				return fmt.Errorf("invalid item ID or name %q", args[1])
			}
			side, err := models.ParseSide(args[2])
			if err != nil {
				return err
			}
			kind, err := models.ParseKind(args[3])
			if err != nil {
				return err
			}
			price, err := parsePrice(args[4])
			if err != nil {
				return err
			}
			if kind == models.AtPrice && price == nil {
				return fmt.Errorf("AT_PRICE orders require a valid price, NULL is not allowed")
			}
			quantity, err := strconv.Atoi(args[5])
			if err != nil {
				return fmt.Errorf("invalid quantity %q", args[5])
			}

			order, err := a.router.Submit(ctx, exchange.SubmitRequest{
				UserID:   user.ID,
				ItemID:   item.ID,
				Side:     side,
				Kind:     kind,
				Price:    price,
				Quantity: quantity,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch order.Status {
			case models.StatusFilled:
				fmt.Fprintf(out, "Order %d submitted successfully and immediately FILLED.\n", order.ID)
			case models.StatusOpen:
				fmt.Fprintf(out, "Order %d submitted successfully and QUEUED (waiting for a match).\n", order.ID)
			default:
				fmt.Fprintf(out, "Order %d submission resulted in status: %s.\n", order.ID, order.Status)
			}
			return nil
		},
	}
}

// parsePrice accepts a number or NULL
func parsePrice(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "NULL") {
		return nil, nil
	}
	p, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid price format %q, provide a number or NULL", s)
	}
	return &p, nil
}

func cancelOrderCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel-order ID",
		Short: "Cancels an open order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid order ID %q", args[0])
			}
			ok, err := a.router.Cancel(cmd.Context(), id)
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(cmd.OutOrStdout(), "Order %d cancelled successfully.\n", id)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Failed to cancel order %d. Order not found or no longer open.\n", id)
			}
			return nil
		},
	}
}

func queryOrderBookCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "query-orderbook ITEM",
		Short: "Shows the open orders of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			item, err := a.catalog.ResolveItem(ctx, args[0])
			if err != nil {
				return fmt.Errorf("invalid item ID or name %q", args[0])
			}
			orders, err := a.router.OrderBook(ctx, item.ID)
			if err != nil {
				return err
			}
			unmatched, err := a.router.UnmatchedOrderCount(ctx, item.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Order Book for %s (ID %d):\n", item.Name, item.ID)
			for _, o := range orders {
				printOrder(out, o, a.catalog.UserName(ctx, o.UserID))
			}
			fmt.Fprintf(out, "Unmatched Orders: %d\n", unmatched)
			return nil
		},
	}
}

func queryTradeHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "query-trade-history ITEM",
		Short: "Shows the trades of an item, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			item, err := a.catalog.ResolveItem(ctx, args[0])
			if err != nil {
				return fmt.Errorf("invalid item ID or name %q", args[0])
			}
			trades, err := a.router.TradeHistory(ctx, item.ID)
			if err != nil {
				return err
			}
			avg, err := a.router.AverageTradePrice(ctx, item.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Trade History for %s (ID %d):\n", item.Name, item.ID)
			for _, t := range trades {
				fmt.Fprintf(out, "- trade %d: %s bought from %s at %.2f x%d (orders %d/%d) %s\n",
					t.ID,
					a.catalog.UserName(ctx, t.BuyerID),
					a.catalog.UserName(ctx, t.SellerID),
					t.Price, t.Quantity, t.BuyOrderID, t.SellOrderID,
					t.Timestamp.Format(timeLayout))
			}
			fmt.Fprintf(out, "Average Trade Price: %.2f\n", avg)
			return nil
		},
	}
}

func queryMetricsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "query-metrics",
		Short: "Shows aggregate marketplace metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			trades, err := a.router.TotalExecutedTrades(ctx)
			if err != nil {
				return err
			}
			open, err := a.router.TotalUnmatchedOrders(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Marketplace Metrics:")
			fmt.Fprintf(out, "  Total Executed Trades: %d\n", trades)
			fmt.Fprintf(out, "  Total Unmatched Orders: %d\n", open)
			return nil
		},
	}
}

func printOrder(out io.Writer, o models.Order, user string) {
	price := "NULL"
	if o.Price != nil {
		price = strconv.FormatFloat(*o.Price, 'f', 2, 64)
	}
	fmt.Fprintf(out, "- order %d: %s %s %s price=%s qty=%d status=%s %s\n",
		o.ID, user, o.Side, o.Kind, price, o.Quantity, o.Status, o.Timestamp.Format(timeLayout))
}
