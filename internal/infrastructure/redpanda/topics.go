package redpanda

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// DeadLetterSuffix names the topic that receives events the relay gave up on.
const DeadLetterSuffix = ".dlq"

// TopicSpec describes a topic the relay owns.
type TopicSpec struct {
	Name       string
	Partitions int32
	Replicas   int16
	Retention  time.Duration
}

func (t TopicSpec) configs() map[string]*string {
	retention := strconv.FormatInt(t.Retention.Milliseconds(), 10)
	policy := "delete"
	return map[string]*string{
		"retention.ms":   &retention,
		"cleanup.policy": &policy,
	}
}

// ChangeTopics returns the change topic, keyed by family member, and its
// dead letter topic.
func ChangeTopics(topic string) []TopicSpec {
	return []TopicSpec{
		{Name: topic, Partitions: 6, Replicas: 1, Retention: 7 * 24 * time.Hour},
		{Name: topic + DeadLetterSuffix, Partitions: 1, Replicas: 1, Retention: 30 * 24 * time.Hour},
	}
}

// Admin manages topics and reads consumer group lag.
type Admin struct {
	client *kadm.Client
	logger *zap.Logger
}

// NewAdmin connects to brokers.
func NewAdmin(brokers []string, logger *zap.Logger) (*Admin, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	cl, err := kgo.NewClient(kgo.SeedBrokers(brokers...), kgo.ClientID("medtrack-admin"))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return &Admin{client: kadm.NewClient(cl), logger: logger}, nil
}

// Ping reports whether any broker answers within five seconds.
func (a *Admin) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := a.client.BrokerMetadata(ctx); err != nil {
		return fmt.Errorf("redpanda unreachable: %w", err)
	}
	return nil
}

// CreateTopics creates specs. Topics that already exist are left as is.
func (a *Admin) CreateTopics(ctx context.Context, specs []TopicSpec) error {
	for _, spec := range specs {
		resp, err := a.client.CreateTopic(ctx, spec.Partitions, spec.Replicas, spec.configs(), spec.Name)
		switch {
		case errors.Is(err, kerr.TopicAlreadyExists) || errors.Is(resp.Err, kerr.TopicAlreadyExists):
			a.logger.Debug("topic already exists", zap.String("topic", spec.Name))
		case err != nil:
			return fmt.Errorf("failed to create topic %s: %w", spec.Name, err)
		case resp.Err != nil:
			return fmt.Errorf("failed to create topic %s: %w", spec.Name, resp.Err)
		default:
			a.logger.Info("topic created",
				zap.String("topic", spec.Name),
				zap.Int32("partitions", spec.Partitions),
				zap.Duration("retention", spec.Retention))
		}
	}
	return nil
}

// EnsureTopics creates the change topic and its dead letter topic.
func (a *Admin) EnsureTopics(ctx context.Context, topic string) error {
	return a.CreateTopics(ctx, ChangeTopics(topic))
}

// ListTopics lists non-internal topics in name order.
func (a *Admin) ListTopics(ctx context.Context) ([]string, error) {
	topics, err := a.client.ListTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	names := topics.Names()
	sort.Strings(names)
	return names, nil
}

// GroupLag is how far a consumer group trails the change topics.
type GroupLag struct {
	Group      string                     `json:"group" yaml:"group"`
	State      string                     `json:"state" yaml:"state"`
	Total      int64                      `json:"total" yaml:"total"`
	Partitions map[string]map[int32]int64 `json:"partitions" yaml:"partitions"`
}

// Lag describes group's lag per topic partition.
func (a *Admin) Lag(ctx context.Context, group string) (*GroupLag, error) {
	described, err := a.client.Lag(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("failed to describe lag for %s: %w", group, err)
	}
	l, ok := described[group]
	if !ok {
		return nil, fmt.Errorf("consumer group %s not found", group)
	}
	if err := l.Error(); err != nil {
		return nil, fmt.Errorf("failed to describe lag for %s: %w", group, err)
	}

	out := &GroupLag{
		Group:      group,
		State:      l.State,
		Total:      l.Lag.Total(),
		Partitions: make(map[string]map[int32]int64, len(l.Lag)),
	}
	for topic, partitions := range l.Lag {
		out.Partitions[topic] = make(map[int32]int64, len(partitions))
		for p, ml := range partitions {
			out.Partitions[topic][p] = ml.Lag
		}
	}
	return out, nil
}

// Close closes the admin client.
func (a *Admin) Close() {
	a.client.Close()
}
