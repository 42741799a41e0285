package events

// Bus is what mutating services publish to and registries subscribe on. The
// in-process Hub satisfies it directly; the Redis bridge wraps it so changes
// made by other replicas land in the same local streams.
type Bus interface {
	Publish(event ChangeEvent)
	Subscribe(userID string) (*Subscription, []ChangeEvent, error)
}
