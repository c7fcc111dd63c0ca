/**
 * @description
 * Operator tool that repairs an invoice whose Paystack webhook was lost. It looks the
 * transaction up by reference, shows what Paystack reports, and after confirmation
 * applies it through the same reconciler the webhook uses, so a repaired invoice
 * follows exactly the same transition rules.
 *
 * Usage:
 *   go run ./cmd/paystack-verify <reference> [--yes]
 *
 * @dependencies
 * - Environment variables: PAYSTACK_SECRET_KEY, DATABASE_URL, RABBITMQ_URL (see internal/config).
 */
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/transfa/payment-service/internal/app"
	"github.com/transfa/payment-service/internal/config"
	"github.com/transfa/payment-service/internal/domain"
	"github.com/transfa/payment-service/internal/store"
	"github.com/transfa/payment-service/pkg/paystackclient"
	"github.com/transfa/payment-service/pkg/rabbitmq"
)

const usage = "Usage: go run ./cmd/paystack-verify <reference> [--yes]"

// transactionLookup and notificationApplier are the two collaborators the tool drives.
type transactionLookup interface {
	LookupTransaction(ctx context.Context, reference string) (*paystackclient.Transaction, error)
}

type notificationApplier interface {
	Apply(ctx context.Context, n domain.PaymentNotification) (app.Outcome, error)
}

func main() {
	reference, autoConfirm, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Println(usage)
		os.Exit(1)
	}

	// Load environment variables from .env files if they exist.
	_ = godotenv.Load("../.env")
	_ = godotenv.Load(".env")

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if strings.TrimSpace(cfg.PaystackSecretKey) == "" {
		log.Fatal("PAYSTACK_SECRET_KEY environment variable is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if cfg.StoreDriver == "memory" {
		log.Fatal("STORE_DRIVER=memory has no durable invoices to repair")
	}
	dbpool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbpool.Close()
	invoices := store.NewPostgresRepository(dbpool)

	paystack := paystackclient.NewClient(cfg.PaystackAPIBaseURL, cfg.PaystackSecretKey, cfg.GatewayTimeout())
	initiator := app.NewPaymentInitiator(paystack, cfg.PaystackCallbackURL, cfg.GatewayTimeout())
	publisher := rabbitmq.ConnectPublisher(cfg.RabbitMQURL, "paystack_verify")
	defer publisher.Close()
	reconciler := newRepairReconciler(invoices, publisher, cfg.BillingEventsExchange, cfg.StoreTimeout())

	if err := run(ctx, reference, autoConfirm, os.Stdin, os.Stdout, initiator, reconciler); err != nil {
		log.Fatalf("Verification failed: %v", err)
	}
}

// newRepairReconciler builds a reconciler without a signature verifier: the
// transaction comes straight from the Paystack API. Repaired invoices still
// announce invoice.paid so downstream consumers see the same event a webhook
// would have produced.
func newRepairReconciler(invoices store.InvoiceStore, publisher rabbitmq.Publisher, exchange string, storeTimeout time.Duration) *app.WebhookReconciler {
	return app.NewWebhookReconciler(nil, invoices, publisher, exchange, storeTimeout)
}

func parseArgs(args []string) (reference string, autoConfirm bool, err error) {
	for _, arg := range args {
		switch {
		case arg == "--yes" || arg == "-y":
			autoConfirm = true
		case strings.HasPrefix(arg, "-"):
			return "", false, fmt.Errorf("unknown flag %s", arg)
		case reference == "":
			reference = strings.TrimSpace(arg)
		default:
			return "", false, errors.New("only one reference may be given")
		}
	}
	if reference == "" {
		return "", false, errors.New("reference is required")
	}
	return reference, autoConfirm, nil
}

func run(ctx context.Context, reference string, autoConfirm bool, in io.Reader, out io.Writer, lookup transactionLookup, applier notificationApplier) error {
	fmt.Fprintf(out, "Fetching transaction %s from Paystack\n", reference)
	tx, err := lookup.LookupTransaction(ctx, reference)
	if err != nil {
		return err
	}

	n := app.NotificationFromTransaction(tx)
	fmt.Fprintf(out, "Transaction Details:\n")
	fmt.Fprintf(out, "  Reference: %s\n", tx.Reference)
	fmt.Fprintf(out, "  Status: %s\n", tx.Status)
	fmt.Fprintf(out, "  Amount: %d %s\n", tx.Amount, tx.Currency)
	fmt.Fprintf(out, "  Customer: %s\n", tx.Customer.Email)
	fmt.Fprintf(out, "  Invoice: %s\n", n.InvoiceID)

	if n.InvoiceID == "" {
		fmt.Fprintln(out, "Transaction carries no invoice id; nothing to reconcile.")
		return nil
	}
	if !strings.EqualFold(tx.Status, "success") {
		fmt.Fprintln(out, "Transaction has not succeeded; invoice left unchanged.")
		return nil
	}

	if !autoConfirm {
		fmt.Fprintf(out, "\nMark invoice %s as Paid? (yes/no): ", n.InvoiceID)
		answer, _ := bufio.NewReader(in).ReadString('\n')
		if strings.TrimSpace(answer) != "yes" {
			fmt.Fprintln(out, "Reconciliation cancelled.")
			return nil
		}
	}

	outcome, err := applier.Apply(ctx, n)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Reconciliation outcome: %s\n", outcome)
	return nil
}
