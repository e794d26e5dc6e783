// Package consumer receives domain events from the task queue and feeds them to
// the notification service, one recipient at a time.
package consumer

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/charlesng35/pinnotify/internal/events"
)

// Task types, one per producing domain.
const (
	TypeChatEvent    = "notification:chat"
	TypeContentEvent = "notification:content"
	TypeUserEvent    = "notification:user"
)

const queuePrefix = "notifications.p"

var taskDomains = map[string]events.Domain{
	TypeChatEvent:    events.DomainChat,
	TypeContentEvent: events.DomainContent,
	TypeUserEvent:    events.DomainUser,
}

// TaskType returns the task type carrying events of the given domain.
func TaskType(domain events.Domain) (string, error) {
	for taskType, d := range taskDomains {
		if d == domain {
			return taskType, nil
		}
	}
	return "", fmt.Errorf("consumer: no task type for domain %q", domain)
}

// DomainForTask resolves the event domain of a task type.
func DomainForTask(taskType string) (events.Domain, bool) {
	domain, ok := taskDomains[taskType]
	return domain, ok
}

// NewEventTask encodes an event as a queue task.
func NewEventTask(ev events.Event) (*asynq.Task, error) {
	taskType, err := TaskType(ev.Domain())
	if err != nil {
		return nil, err
	}
	payload, err := events.Encode(ev)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, payload), nil
}

// Partition maps a recipient to one of n partitions. Every component that
// routes by recipient uses it so one recipient always lands on one worker.
func Partition(recipientID string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(recipientID))
	return int(h.Sum32() % uint32(n))
}

// PartitionQueue names the queue holding partition i.
func PartitionQueue(i int) string {
	return queuePrefix + strconv.Itoa(i)
}

// ParseOwned parses the partitions this process consumes: "all" (or empty) or a
// comma separated list of partitions and inclusive ranges such as "0,2,5-7".
func ParseOwned(spec string, partitions int) ([]int, error) {
	if partitions <= 0 {
		return nil, errors.New("consumer: partitions must be positive")
	}

	spec = strings.TrimSpace(strings.ToLower(spec))
	if spec == "" || spec == "all" {
		owned := make([]int, partitions)
		for i := range owned {
			owned[i] = i
		}
		return owned, nil
	}

	seen := map[int]struct{}{}
	var owned []int
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, err := parsePartitionRange(part)
		if err != nil {
			return nil, err
		}
		if lo < 0 || hi >= partitions || lo > hi {
			return nil, fmt.Errorf("consumer: partition %q out of range [0,%d)", part, partitions)
		}
		for i := lo; i <= hi; i++ {
			if _, dup := seen[i]; dup {
				continue
			}
			seen[i] = struct{}{}
			owned = append(owned, i)
		}
	}
	if len(owned) == 0 {
		return nil, errors.New("consumer: no partitions owned")
	}
	sort.Ints(owned)
	return owned, nil
}

func parsePartitionRange(part string) (int, int, error) {
	loText, hiText, isRange := strings.Cut(part, "-")
	lo, err := strconv.Atoi(strings.TrimSpace(loText))
	if err != nil {
		return 0, 0, fmt.Errorf("consumer: invalid partition %q: %w", part, err)
	}
	if !isRange {
		return lo, lo, nil
	}
	hi, err := strconv.Atoi(strings.TrimSpace(hiText))
	if err != nil {
		return 0, 0, fmt.Errorf("consumer: invalid partition %q: %w", part, err)
	}
	return lo, hi, nil
}
