package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tendermint/bazaar/internal/market"
)

const consoleHelp = `
Available commands (type and press enter):
 l - list available goods
 c - show own catalog
 p - publish list of offered goods
 b - buy goods
 h - haggle (try to buy for less than the price)
 s - show balance
 q - quit`

// console is a line-oriented user interface to a participant.
type console struct {
	p     *market.Participant
	in    io.Reader
	out   io.Writer
	lines chan string
}

func newConsole(p *market.Participant, in io.Reader, out io.Writer) *console {
	return &console{p: p, in: in, out: out, lines: make(chan string)}
}

// run reads and executes commands until the user quits, the input ends or
// ctx is done.
func (c *console) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.scan(ctx)

	fmt.Fprintf(c.out, "Participant %s, account %d\n", c.p.Name(), c.p.Account())
	fmt.Fprintln(c.out, consoleHelp)
	for {
		line, err := c.readLine(ctx)
		if err != nil {
			return nil
		}

		switch strings.TrimSpace(line) {
		case "":
			continue
		case "q":
			return nil
		case "l":
			c.list()
		case "c":
			err = c.catalog(ctx)
		case "p":
			if err = c.p.PublishCatalog(ctx); err == nil {
				fmt.Fprintln(c.out, "List of offers published")
			}
		case "b":
			err = c.buy(ctx, false)
		case "h":
			err = c.buy(ctx, true)
		case "s":
			err = c.balance(ctx)
		default:
			fmt.Fprintf(c.out, "Unknown command %q\n", line)
			fmt.Fprintln(c.out, consoleHelp)
		}

		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, market.ErrStopped) || errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	}
}

func (c *console) scan(ctx context.Context) {
	defer close(c.lines)

	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		select {
		case c.lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}

func (c *console) readLine(ctx context.Context) (string, error) {
	select {
	case line, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *console) prompt(ctx context.Context, question string) (string, error) {
	fmt.Fprintln(c.out, question)
	line, err := c.readLine(ctx)
	return strings.TrimSpace(line), err
}

func (c *console) list() {
	fmt.Fprintln(c.out, "Available goods (name: price):")
	for _, offer := range c.p.Offers() {
		fmt.Fprintf(c.out, "From %s\n", offer.Seller)
		for _, g := range offer.Goods {
			fmt.Fprintf(c.out, "  %v\n", g)
		}
	}
}

func (c *console) catalog(ctx context.Context) error {
	goods, err := c.p.Catalog(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Offered goods (name: price):")
	for _, g := range goods {
		fmt.Fprintf(c.out, "  %v\n", g)
	}
	return nil
}

func (c *console) buy(ctx context.Context, haggle bool) error {
	seller, err := c.prompt(ctx, "Enter seller name:")
	if err != nil {
		return err
	}
	item, err := c.prompt(ctx, "Enter goods name:")
	if err != nil {
		return err
	}

	receipt, err := c.p.Purchase(ctx, seller, item, haggle)
	if err != nil {
		return err
	}
	switch receipt.Outcome {
	case market.OutcomeUnavailable:
		fmt.Fprintln(c.out, "Seller replies the requested item is not available.")
	case market.OutcomeConfirmed:
		fmt.Fprintf(c.out, "Buy order successful: paid %d for %s.\n", receipt.Paid, receipt.Item)
	case market.OutcomeReleased:
		fmt.Fprintf(c.out, "Buy order failed: offered %d of %d for %s.\n", receipt.Paid, receipt.Price, receipt.Item)
	}
	return nil
}

func (c *console) balance(ctx context.Context) error {
	balance, err := c.p.Balance(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Current balance is %d\n", balance)
	return nil
}
