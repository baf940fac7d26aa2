package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lukasbauer/interviewer/internal/app"
	"github.com/lukasbauer/interviewer/internal/httpapi"
)

func main() {
	cfg := app.LoadConfigFromEnv()

	logger := log.New(os.Stdout, "", log.LstdFlags)

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(cfg, os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	// Initialize Sentry for error monitoring
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2, // 20% of requests for performance monitoring
			Environment:      cfg.Environment,
		})
		if err != nil {
			logger.Printf("sentry init failed: %v", err)
		} else {
			logger.Printf("sentry initialized")
			defer sentry.Flush(2 * time.Second)
		}
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		if cfg.SentryDSN != "" {
			sentry.CaptureException(err)
			sentry.Flush(2 * time.Second)
		}
		logger.Fatalf("init app: %v", err)
	}

	sessions := httpapi.NewSessionRegistry()
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Router(sessions),
		ReadHeaderTimeout: 5 * time.Second,
	}

	staleJob := a.StaleSessionJob(sessions)
	staleJob.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()

	// Stop taking new interviews and let running ones finish.
	sessions.StartDraining()
	logger.Printf("draining: %d active sessions", sessions.ActiveCount())

	drained := make(chan struct{})
	go func() {
		sessions.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		logger.Printf("all sessions finished")
	case <-time.After(cfg.DrainTimeout):
		logger.Printf("drain timeout after %s, cancelling %d sessions", cfg.DrainTimeout, sessions.ActiveCount())
		sessions.StopAll()
		select {
		case <-drained:
		case <-time.After(10 * time.Second):
			logger.Printf("sessions still running after cancel")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	staleJob.Stop()
	_ = a.Close()
}

// issueToken prints an owner access token for the owner API.
//
//	server token -user <id> [-email <email>]
func issueToken(cfg app.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	userID := fs.String("user", "", "owner user ID")
	email := fs.String("email", "", "owner email")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("token: -user is required")
	}
	token, expiresAt, err := httpapi.IssueOwnerToken(cfg.JWTSecret, cfg.JWTExpiry, *userID, *email)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n# expires %s\n", token, expiresAt.Format(time.RFC3339))
	return nil
}
