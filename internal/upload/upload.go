// Package upload posts the listings of a run to a remote collector.
package upload

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"mspro-labs/sienna-grabber/internal/models"
)

var (
	logger = log.New(os.Stdout, "UPLOAD: ", log.LstdFlags|log.Lshortfile)
	tracer = otel.Tracer("sienna-grabber/upload")
)

type payload struct {
	Model    string                  `json:"model"`
	Listings []models.VehicleListing `json:"listings"`
}

type Client struct {
	url  string
	http *resty.Client
}

func NewClient(url string) *Client {
	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetHeader("Content-Type", "application/json")
	return &Client{url: url, http: client}
}

// Send posts the listings as {"model": ..., "listings": [...]}. Any non-2xx
// response is an error.
func (c *Client) Send(ctx context.Context, model string, listings []models.VehicleListing) error {
	ctx, span := tracer.Start(ctx, "upload.Send")
	defer span.End()
	span.SetAttributes(attribute.String("upload.url", c.url), attribute.Int("listings", len(listings)))

	if listings == nil {
		listings = []models.VehicleListing{}
	}
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(payload{Model: model, Listings: listings}).
		Post(c.url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return fmt.Errorf("sync to %s: %w", c.url, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", res.StatusCode()))
	if res.IsError() {
		err := fmt.Errorf("sync to %s: HTTP %d: %s", c.url, res.StatusCode(), res.String())
		span.SetStatus(codes.Error, "bad status")
		return err
	}
	logger.Printf("Synced %d %s listings.", len(listings), model)
	return nil
}
