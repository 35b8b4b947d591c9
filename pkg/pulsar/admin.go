package pulsar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	pkghttp "github.com/potatman/EventHorizon-sub000/pkg/http"
	"github.com/potatman/EventHorizon-sub000/pkg/message"
)

const AdminDestination pkghttp.Destination = "pulsar-admin"

var keyHashRangeRegexp = regexp.MustCompile(`^\[\s*(\d+)\s*,\s*(\d+)\s*]$`)

type (
	// AdminClient reads subscription state from the broker admin REST API.
	AdminClient struct {
		client pkghttp.Client
	}

	topicStats struct {
		Subscriptions map[string]subscriptionStats `json:"subscriptions"`
	}

	subscriptionStats struct {
		Type      string          `json:"type"`
		Consumers []consumerStats `json:"consumers"`
	}

	consumerStats struct {
		ConsumerName  string   `json:"consumerName"`
		KeyHashRanges []string `json:"keyHashRanges"`
	}
)

func NewAdminClient(adminURL string, opts ...pkghttp.ClientOption) *AdminClient {
	opts = append([]pkghttp.ClientOption{pkghttp.WithClientDestination(AdminDestination, strings.TrimRight(adminURL, "/"))}, opts...)
	return &AdminClient{
		client: pkghttp.NewClient(opts...),
	}
}

// ConsumerKeyRanges returns the key hash ranges the broker assigned to the named consumer. A consumer missing
// from the stats gets no ranges, the caller treats its ownership as unknown.
func (a *AdminClient) ConsumerKeyRanges(
	ctx context.Context,
	topic message.Topic,
	subscription message.SubscriberName,
	consumerName string,
) (message.KeyHashRanges, error) {
	path, err := topicAdminPath(topic)
	if err != nil {
		return nil, err
	}

	var stats topicStats
	resp, err := a.client.NewRequest(ctx).
		SetResult(&stats).
		Get(path + "/stats")
	if err != nil {
		return nil, fmt.Errorf("get topic %s stats: %w", topic, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get topic %s stats: unexpected status %d", topic, resp.StatusCode())
	}

	sub, ok := stats.Subscriptions[string(subscription)]
	if !ok {
		return nil, nil
	}

	for _, consumer := range sub.Consumers {
		if consumer.ConsumerName != consumerName {
			continue
		}
		return ParseKeyHashRanges(consumer.KeyHashRanges)
	}

	return nil, nil
}

func (a *AdminClient) Healthcheck(ctx context.Context) error {
	resp, err := a.client.NewRequest(ctx).Get("/admin/v2/brokers/health")
	if err != nil {
		return fmt.Errorf("broker healthcheck: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("broker healthcheck: unexpected status %d", resp.StatusCode())
	}

	return nil
}

// ParseKeyHashRanges parses ranges in the "[start, end]" form of the topic stats.
func ParseKeyHashRanges(ranges []string) (message.KeyHashRanges, error) {
	result := make(message.KeyHashRanges, 0, len(ranges))
	for _, str := range ranges {
		match := keyHashRangeRegexp.FindStringSubmatch(strings.TrimSpace(str))
		if match == nil {
			return nil, fmt.Errorf("invalid key hash range %q", str)
		}

		start, err := strconv.Atoi(match[1])
		if err != nil {
			return nil, fmt.Errorf("invalid key hash range %q: %w", str, err)
		}
		end, err := strconv.Atoi(match[2])
		if err != nil {
			return nil, fmt.Errorf("invalid key hash range %q: %w", str, err)
		}
		if start > end {
			return nil, fmt.Errorf("invalid key hash range %q", str)
		}

		result = append(result, message.KeyHashRange{Start: start, End: end})
	}

	return result, nil
}

// topicAdminPath maps "persistent://tenant/namespace/topic" to its admin API path.
func topicAdminPath(topic message.Topic) (string, error) {
	domain, name, ok := strings.Cut(string(topic), "://")
	if !ok {
		return "", fmt.Errorf("topic %s is not fully qualified", topic)
	}

	parts := strings.Split(name, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", errors.New("topic name must have the tenant/namespace/topic form")
	}

	return fmt.Sprintf("/admin/v2/%s/%s/%s/%s", domain, parts[0], parts[1], parts[2]), nil
}
