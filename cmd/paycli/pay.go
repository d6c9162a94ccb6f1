package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mmeshcher/cvbuilder-pay/internal/export"
	"github.com/mmeshcher/cvbuilder-pay/internal/model"
	"github.com/mmeshcher/cvbuilder-pay/internal/payflow"
	"github.com/mmeshcher/cvbuilder-pay/internal/proxyclient"
)

type payOptions struct {
	proxyURL       string
	email          string
	amount         string
	qrOut          string
	document       string
	out            string
	pollInterval   time.Duration
	approvalDelay  time.Duration
	requestTimeout time.Duration
	wait           time.Duration
	verbose        bool
}

func payCmd() *cobra.Command {
	opts := payOptions{
		approvalDelay: payflow.DefaultApprovalDelay,
	}

	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Pay for a CV export with Pix and write the unlocked document",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runPay(ctx, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.proxyURL, "proxy", "p", "http://localhost:8080", "payment proxy base URL")
	cmd.Flags().StringVarP(&opts.email, "email", "e", "", "payer email")
	cmd.Flags().StringVarP(&opts.amount, "amount", "a", "", "charge amount, proxy default when empty")
	cmd.Flags().StringVar(&opts.qrOut, "qr-out", "", "write the Pix QR code PNG to this file")
	cmd.Flags().StringVarP(&opts.document, "document", "d", "", "rendered document to export after payment")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "curriculo.pdf", "exported file path")
	cmd.Flags().DurationVar(&opts.pollInterval, "poll-interval", payflow.DefaultPollInterval, "payment status poll interval")
	cmd.Flags().DurationVar(&opts.requestTimeout, "request-timeout", payflow.DefaultRequestTimeout, "timeout of each proxy request")
	cmd.Flags().DurationVar(&opts.wait, "wait", 15*time.Minute, "give up waiting for the payment after this long")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log flow details")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func runPay(ctx context.Context, opts payOptions, w io.Writer) error {
	amount := decimal.Zero
	if opts.amount != "" {
		var err error
		amount, err = decimal.NewFromString(opts.amount)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", opts.amount, err)
		}
	}

	logger := zap.NewNop()
	if opts.verbose {
		dev, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		logger = dev
		defer logger.Sync()
	}

	if opts.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.wait)
		defer cancel()
	}

	proxy := proxyclient.NewClient(opts.proxyURL, opts.requestTimeout)
	gate := export.NewGate(export.CopyRasterizer{}, logger)
	flow := payflow.New(proxy, gate.Unlock,
		payflow.WithPollInterval(opts.pollInterval),
		payflow.WithApprovalDelay(opts.approvalDelay),
		payflow.WithRequestTimeout(opts.requestTimeout),
		payflow.WithLogger(logger),
	)
	defer flow.Close()

	result := make(chan error, 1)
	go func() {
		result <- gate.Pay(ctx, flow, opts.email, amount)
	}()

	if err := announceCharge(flow, result, opts, w); err != nil {
		return err
	}

	if err := <-result; err != nil {
		return fmt.Errorf("payment not completed: %s", payflow.UserMessage(err))
	}
	fmt.Fprintln(w, "Payment approved, export unlocked.")

	if opts.document == "" {
		return nil
	}
	return exportDocument(ctx, gate, opts, w)
}

// announceCharge ждёт создания платежа и выводит данные для оплаты. Если
// оплата завершилась раньше, результат возвращается обратно в канал.
func announceCharge(flow *payflow.Controller, result chan error, opts payOptions, w io.Writer) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err := <-result:
			result <- err
			if flow.Charge() == nil {
				return nil
			}
			return printCharge(flow.Charge(), opts, w)
		case <-ticker.C:
			if charge := flow.Charge(); charge != nil {
				if err := printCharge(charge, opts, w); err != nil {
					return err
				}
				fmt.Fprintln(w, "Waiting for payment...")
				return nil
			}
		}
	}
}

func printCharge(charge *model.Charge, opts payOptions, w io.Writer) error {
	fmt.Fprintf(w, "Charge %s created, status %s\n", charge.ID, charge.Status)
	fmt.Fprintf(w, "Pix copy and paste code:\n%s\n", charge.QRCode)
	if charge.TicketURL != "" {
		fmt.Fprintf(w, "Ticket: %s\n", charge.TicketURL)
	}

	if opts.qrOut != "" {
		if err := writeQR(opts.qrOut, charge.QRCodeBase64); err != nil {
			return err
		}
		fmt.Fprintf(w, "QR code written to %s\n", opts.qrOut)
	}
	return nil
}

func writeQR(path, encoded string) error {
	if encoded == "" {
		return errors.New("proxy returned no QR code image")
	}

	png, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode QR code: %w", err)
	}

	if err := os.WriteFile(path, png, 0o644); err != nil {
		return fmt.Errorf("write QR code: %w", err)
	}
	return nil
}

func exportDocument(ctx context.Context, gate *export.Gate, opts payOptions, w io.Writer) error {
	content, err := os.ReadFile(opts.document)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}

	f, err := os.Create(opts.out)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer f.Close()

	doc := export.Document{Name: filepath.Base(opts.out), Content: content}
	if err := gate.Export(ctx, doc, f); err != nil {
		return err
	}

	fmt.Fprintf(w, "Document written to %s\n", opts.out)
	return f.Close()
}
