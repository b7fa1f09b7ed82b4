package main

import (
	"MarginTrading/internal/ingestion"
	"MarginTrading/internal/schedule"
	"MarginTrading/internal/snapshot"
	"MarginTrading/internal/validation"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

func requestCommand() *cli.Command {
	return &cli.Command{
		Name:  "request",
		Usage: "Publish a snapshot creation request",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "trading-day",
				Usage: "Trading day (YYYY-MM-DD), defaults to today (UTC)",
			},
			&cli.StringFlag{
				Name:  "status",
				Usage: "Snapshot status: draft or final",
				Value: "final",
			},
			&cli.StringFlag{
				Name:  "strategy",
				Usage: "Validation strategy: AsSoonAsPossible or WaitPlatformConsistency",
				Value: validation.StrategyAsSoonAsPossible.String(),
			},
			&cli.StringFlag{
				Name:  "initiator",
				Value: "cli",
			},
			&cli.StringFlag{
				Name:  "correlation-id",
				Usage: "Correlation id, defaults to the request id",
			},
		},
		Action: publishRequest,
	}
}

func publishRequest(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, "request")

	day := schedule.TradingDay(time.Now())
	if s := c.String("trading-day"); s != "" {
		if day, err = schedule.ParseTradingDay(s); err != nil {
			return fmt.Errorf("parse trading-day: %w", err)
		}
	}
	// Validated locally so typos fail before reaching the broker.
	if _, err := snapshot.ParseStatus(c.String("status")); err != nil {
		return err
	}
	if _, err := validation.ParseStrategyType(c.String("strategy")); err != nil {
		return err
	}

	id := uuid.New()
	payload, err := json.Marshal(map[string]string{
		"id":             id.String(),
		"trading_day":    day.Format(time.DateOnly),
		"status":         c.String("status"),
		"strategy":       c.String("strategy"),
		"initiator":      c.String("initiator"),
		"correlation_id": c.String("correlation-id"),
	})
	if err != nil {
		return err
	}

	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	subject := "margin.snapshot.requests." + c.String("initiator")
	if _, err := js.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	fmt.Printf("request %s published to %s\n", id, subject)
	return nil
}
