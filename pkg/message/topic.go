package message

import (
	"fmt"
	"strings"

	pkgstrings "github.com/potatman/EventHorizon-sub000/pkg/strings"
)

const defaultTopicDomain = "persistent://public/default"

type (
	Topic              string
	TopicBuilderOption func(*topicBuilder)

	topicBuilder struct {
		domain      string
		baseName    string
		aggregate   string
		messageType string
		customTags  []string
	}
)

func (b *topicBuilder) Build() Topic {
	const separator = '.'

	sb := strings.Builder{}
	sb.WriteString(b.domain)
	sb.WriteRune('/')
	sb.WriteString(b.baseName)

	addTagIfNotEmpty := func(tag string) {
		if tag != "" {
			sb.WriteRune(separator)
			sb.WriteString(tag)
		}
	}

	addTagIfNotEmpty(b.aggregate)
	addTagIfNotEmpty(b.messageType)
	for _, tag := range b.customTags {
		addTagIfNotEmpty(tag)
	}

	return Topic(sb.String())
}

// WithTopicDomain sets the "persistent://tenant/namespace" part of the topic.
func WithTopicDomain(tenant, namespace string) TopicBuilderOption {
	return func(builder *topicBuilder) {
		builder.domain = fmt.Sprintf("persistent://%s/%s", tenant, namespace)
	}
}

func WithTopicAggregateName(name string) TopicBuilderOption {
	name = pkgstrings.ToKebabCase(name)
	return func(builder *topicBuilder) {
		builder.aggregate = fmt.Sprintf("%s-aggregate", name)
	}
}

func WithTopicMessageType(msgType string) TopicBuilderOption {
	msgType = pkgstrings.ToKebabCase(msgType)
	return func(builder *topicBuilder) {
		builder.messageType = fmt.Sprintf("%s-type", msgType)
	}
}

func WithTopicCustomTags(tags ...string) TopicBuilderOption {
	kebabTags := make([]string, 0, len(tags))
	for _, tag := range tags {
		kebabTags = append(kebabTags, pkgstrings.ToKebabCase(tag))
	}

	return func(builder *topicBuilder) {
		builder.customTags = append(builder.customTags, kebabTags...)
	}
}

func NewTopic(baseName string, opts ...TopicBuilderOption) Topic {
	builder := topicBuilder{
		domain:   defaultTopicDomain,
		baseName: pkgstrings.ToKebabCase(baseName),
	}
	for _, opt := range opts {
		opt(&builder)
	}

	return builder.Build()
}

// NewRawTopic accepts a short name ("events") or a fully qualified one ("persistent://public/default/events").
func NewRawTopic(topic string) Topic {
	if strings.Contains(topic, "://") {
		return Topic(topic)
	}
	if strings.Count(topic, "/") == 2 {
		return Topic(fmt.Sprintf("persistent://%s", topic))
	}

	return Topic(fmt.Sprintf("%s/%s", defaultTopicDomain, topic))
}
