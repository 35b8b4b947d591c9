package message

import (
	"fmt"

	pkgstrings "github.com/potatman/EventHorizon-sub000/pkg/strings"
)

type SubscriberName string

func NewSubscriberName(name string) SubscriberName {
	return SubscriberName(pkgstrings.ToKebabCase(name))
}

func NewSubscriberServiceName(name string) SubscriberName {
	return NewSubscriberName(fmt.Sprintf("%s-service", name))
}

// FailureStateTopic is the compacted topic holding stream failure records of the subscription.
func FailureStateTopic(subscriber SubscriberName, opts ...TopicBuilderOption) Topic {
	opts = append(opts, WithTopicCustomTags("stream-failures"))
	return NewTopic(string(subscriber), opts...)
}
