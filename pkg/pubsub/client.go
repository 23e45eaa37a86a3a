// Package pubsub connects the order event relay to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/storefront-checkout/pkg/config"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
)

var errProjectIDRequired = errors.New("gcp project id is required")

// Client owns the Pub/Sub connection. Topics are never created here; a
// missing orders topic is a deployment error and fails startup.
type Client struct {
	client  *pubsub.Client
	project string
	orders  string
}

func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}
	orders := strings.TrimSpace(cfg.OrdersTopic)
	if orders == "" {
		return nil, errors.New("orders topic is required")
	}

	conn, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{client: conn, project: project, orders: orders}
	if err := c.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	logg.Info(logg.WithField(ctx, "orders_topic", c.resource(orders)), "pubsub client ready")
	return c, nil
}

// Publisher returns a handle for topic, given as a short ID or a full
// projects/<p>/topics/<t> name. Callers own the handle and must Stop it.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	name := c.resource(topic)
	if name == "" {
		return nil
	}
	return c.client.Publisher(name)
}

// Ping confirms the orders topic exists and is visible to our credentials.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	name := c.resource(c.orders)
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("topic %s does not exist", name)
	default:
		return fmt.Errorf("checking topic %s: %w", name, err)
	}
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) resource(topic string) string {
	topic = strings.TrimSpace(topic)
	switch {
	case topic == "":
		return ""
	case strings.HasPrefix(topic, "projects/") && strings.Contains(topic, "/topics/"):
		return topic
	case c.project == "":
		return ""
	default:
		return "projects/" + c.project + "/topics/" + topic
	}
}
