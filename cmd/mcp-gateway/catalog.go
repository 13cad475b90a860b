package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cgk-platform/mcp-gateway/auth"
	"github.com/cgk-platform/mcp-gateway/mcp"
	"github.com/cgk-platform/mcp-gateway/ratelimit"
	"github.com/cgk-platform/mcp-gateway/registry"
)

// buildCatalog registers the platform tool set. Tool implementations here are
// demonstration stand-ins; the shapes, categories, and annotations are the
// real contract.
func buildCatalog(reg *registry.Registry) error {
	type listOrdersArgs struct {
		Status string `json:"status,omitempty" jsonschema:"description=Filter by order status"`
		Limit  int    `json:"limit,omitempty" jsonschema:"description=Maximum orders to return"`
	}
	type refundOrderArgs struct {
		OrderID string `json:"orderId" jsonschema:"required,description=Order to refund"`
		Reason  string `json:"reason,omitempty"`
	}
	type exportEventsArgs struct {
		Dataset string `json:"dataset" jsonschema:"required,description=Event dataset to export"`
		Days    int    `json:"days,omitempty" jsonschema:"description=Lookback window in days"`
	}
	type generateDescriptionArgs struct {
		ProductID string `json:"productId" jsonschema:"required"`
		Tone      string `json:"tone,omitempty" jsonschema:"enum=casual,enum=formal"`
	}
	type lookupTicketArgs struct {
		TicketID string `json:"ticketId" jsonschema:"required"`
	}
	type rotateKeyArgs struct {
		KeyID string `json:"keyId" jsonschema:"required,description=API key to rotate"`
	}

	err := reg.RegisterTools(
		registry.NewTool("commerce_list_orders", registry.CategoryCommerce,
			func(ctx context.Context, ac *auth.Context, args listOrdersArgs) (*mcp.CallToolResult, error) {
				limit := args.Limit
				if limit <= 0 || limit > 50 {
					limit = 10
				}
				return registry.TextResult(fmt.Sprintf("%d orders for tenant %s (status=%q)", limit, ac.TenantID, args.Status)), nil
			},
			registry.WithDescription("List recent orders for the authenticated tenant."),
			registry.WithAnnotations(registry.Annotations{
				ReadOnly:      true,
				Idempotent:    true,
				RequiresAuth:  true,
				RateLimitTier: ratelimit.TierStandard,
			}),
		),
		registry.NewTool("commerce_refund_order", registry.CategoryCommerce,
			func(ctx context.Context, ac *auth.Context, args refundOrderArgs) (*mcp.CallToolResult, error) {
				if args.OrderID == "" {
					return registry.ErrorResult("orderId is required"), nil
				}
				return registry.TextResult(fmt.Sprintf("refund issued for order %s by %s", args.OrderID, ac.UserID)), nil
			},
			registry.WithDescription("Issue a refund for an order."),
			registry.WithAnnotations(registry.Annotations{
				Destructive:   true,
				RequiresAuth:  true,
				RateLimitTier: ratelimit.TierExpensive,
			}),
		),
		registry.NewStreamingTool("analytics_export_events", registry.CategoryAnalytics,
			func(ctx context.Context, ac *auth.Context, args exportEventsArgs) (registry.ChunkIterator, error) {
				days := args.Days
				if days <= 0 {
					days = 7
				}
				day := 0
				return registry.ChunkIteratorFunc(func(ctx context.Context) (mcp.ContentBlock, error) {
					if err := ctx.Err(); err != nil {
						return mcp.ContentBlock{}, err
					}
					if day >= days {
						return mcp.ContentBlock{}, io.EOF
					}
					ts := time.Now().AddDate(0, 0, -day).Format("2006-01-02")
					day++
					return mcp.TextBlock(fmt.Sprintf("%s dataset=%s tenant=%s rows=1024", ts, args.Dataset, ac.TenantID)), nil
				}), nil
			},
			registry.WithDescription("Export event rows as a chunked stream, one day per chunk."),
			registry.WithAnnotations(registry.Annotations{
				ReadOnly:      true,
				RequiresAuth:  true,
				RateLimitTier: ratelimit.TierBulk,
			}),
		),
		registry.NewTool("creator_generate_description", registry.CategoryCreator,
			func(ctx context.Context, ac *auth.Context, args generateDescriptionArgs) (*mcp.CallToolResult, error) {
				tone := args.Tone
				if tone == "" {
					tone = "casual"
				}
				return registry.TextResult(fmt.Sprintf("generated %s description for product %s", tone, args.ProductID)), nil
			},
			registry.WithDescription("Generate a product description."),
			registry.WithAnnotations(registry.Annotations{
				RequiresAuth:  true,
				RateLimitTier: ratelimit.TierExpensive,
			}),
		),
		registry.NewTool("support_lookup_ticket", registry.CategorySupport,
			func(ctx context.Context, ac *auth.Context, args lookupTicketArgs) (*mcp.CallToolResult, error) {
				return registry.TextResult(fmt.Sprintf("ticket %s: open, assigned to support", args.TicketID)), nil
			},
			registry.WithDescription("Look up a support ticket by ID."),
			registry.WithAnnotations(registry.Annotations{
				ReadOnly:      true,
				Idempotent:    true,
				RequiresAuth:  true,
				RateLimitTier: ratelimit.TierStandard,
			}),
		),
		registry.NewTool("admin_rotate_api_key", registry.CategoryAdmin,
			func(ctx context.Context, ac *auth.Context, args rotateKeyArgs) (*mcp.CallToolResult, error) {
				return registry.TextResult(fmt.Sprintf("api key %s rotated by %s", args.KeyID, ac.UserID)), nil
			},
			registry.WithDescription("Rotate a tenant API key."),
			registry.WithAnnotations(registry.Annotations{
				Destructive:   true,
				RequiresAuth:  true,
				RequiresAdmin: true,
				RateLimitTier: ratelimit.TierExpensive,
			}),
		),
	)
	if err != nil {
		return err
	}

	if err := reg.RegisterResources(
		registry.ResourceEntry{
			Category: registry.CategoryCommerce,
			Resource: mcp.Resource{
				URI:         "cgk://docs/commerce/refund-policy",
				Name:        "Refund policy",
				Description: "Platform refund policy reference.",
				MimeType:    "text/markdown",
			},
			Contents: mcp.ResourceContents{
				URI:      "cgk://docs/commerce/refund-policy",
				MimeType: "text/markdown",
				Text:     "# Refund policy\n\nRefunds are issued to the original payment method within 5 business days.",
			},
		},
		registry.ResourceEntry{
			Category: registry.CategoryAnalytics,
			Resource: mcp.Resource{
				URI:         "cgk://docs/analytics/datasets",
				Name:        "Available datasets",
				MimeType:    "application/json",
				Description: "Datasets accepted by analytics_export_events.",
			},
			Contents: mcp.ResourceContents{
				URI:      "cgk://docs/analytics/datasets",
				MimeType: "application/json",
				Text:     `{"datasets":["pageviews","checkouts","sessions"]}`,
			},
		},
	); err != nil {
		return err
	}

	return reg.RegisterPrompts(
		registry.PromptEntry{
			Category: registry.CategoryCreator,
			Prompt: mcp.Prompt{
				Name:        "product_launch_post",
				Description: "Draft a social post announcing a product launch.",
				Arguments: []mcp.PromptArgument{
					{Name: "product", Description: "Product name", Required: true},
					{Name: "audience", Description: "Target audience"},
				},
			},
			Messages: []mcp.PromptMessage{
				{Role: "user", Content: mcp.TextBlock("Write a launch announcement for {{product}} aimed at {{audience}}.")},
			},
		},
	)
}
