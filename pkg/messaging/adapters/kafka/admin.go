package kafka

import (
	"github.com/IBM/sarama"

	"github.com/corebroker/messaging-runtime/pkg/messaging"
)

// TopicSpec describes the admin-path configuration for a single topic.
// Defaults mirror the values this system's test suite exercises against.
type TopicSpec struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16

	RetentionMs    string
	RetentionBytes string
	CleanupPolicy  string
	SegmentBytes   string
}

// DefaultTopicSpec returns a TopicSpec pre-filled with this system's
// standard topic configuration values.
func DefaultTopicSpec(name string, partitions int32, replication int16) TopicSpec {
	return TopicSpec{
		Name:              name,
		Partitions:        partitions,
		ReplicationFactor: replication,
		RetentionMs:       "3600000",
		RetentionBytes:    "104857600",
		CleanupPolicy:     "delete",
		SegmentBytes:      "1048576",
	}
}

// EnsureTopics creates any topic in specs that does not already exist,
// using each spec's configuration. Topics that already exist are left
// untouched. This is a separate admin path from the producer/consumer; it
// is not invoked implicitly by Broker.
func EnsureTopics(cfg Config, specs []TopicSpec) error {
	adminCfg := sarama.NewConfig()
	adminCfg.Version = sarama.DefaultVersion

	admin, err := sarama.NewClusterAdmin(cfg.Brokers, adminCfg)
	if err != nil {
		return messaging.ErrTransportUnavailable(err)
	}
	defer admin.Close()

	existing, err := admin.ListTopics()
	if err != nil {
		return messaging.ErrTransportUnavailable(err)
	}

	for _, spec := range specs {
		if _, ok := existing[spec.Name]; ok {
			continue
		}
		detail := &sarama.TopicDetail{
			NumPartitions:     spec.Partitions,
			ReplicationFactor: spec.ReplicationFactor,
			ConfigEntries: map[string]*string{
				"retention.ms":    strPtr(spec.RetentionMs),
				"retention.bytes": strPtr(spec.RetentionBytes),
				"cleanup.policy":  strPtr(spec.CleanupPolicy),
				"segment.bytes":   strPtr(spec.SegmentBytes),
			},
		}
		if err := admin.CreateTopic(spec.Name, detail, false); err != nil {
			return messaging.ErrTransportUnavailable(err)
		}
	}
	return nil
}

func strPtr(s string) *string { return &s }
