package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints a basket's allocation ledger and its recent operations.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show baskets")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Basket == "" {
		names, err := store.ListBasketNames(ctx)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Fprintln(os.Stdout, "no baskets found")
			return nil
		}
		for _, name := range names {
			fmt.Fprintln(os.Stdout, name)
		}
		return nil
	}

	b, err := store.GetBasket(ctx, opts.Basket)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Basket: %s\n", b.Name)
	fmt.Fprintf(os.Stdout, "Reserve mint: %s\n", b.ReserveMint.Hex())
	fmt.Fprintf(os.Stdout, "Custody: %s\n", b.Custody.Hex())
	fmt.Fprintf(os.Stdout, "Authority: %s\n", b.Authority.Hex())
	fmt.Fprintf(os.Stdout, "Rebalance authority: %s\n\n", b.RebalanceAuthority.Hex())

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Asset\tAllocation (bps)")
	for _, entry := range b.Collateral {
		fmt.Fprintf(writer, "%s\t%d\n", entry.Asset.Hex(), entry.AllocationBps)
	}
	writer.Flush()

	records, err := store.ListRecentOperations(ctx, opts.Basket, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "\nno operations recorded")
		return nil
	}

	fmt.Fprintln(os.Stdout)
	writer = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tKind\tCaller\tAsset\tIn\tOut\tStatus")
	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.Kind,
			rec.Caller,
			rec.Asset,
			rec.AmountIn.String(),
			rec.AmountOut.String(),
			sanitizeInline(rec.Status),
		)
	}
	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
