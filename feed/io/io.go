// Package io provides a file-based trace feed for traceflow. The publisher
// captures records to a JSON-lines file; the subscriber tails that file,
// which makes saved traces loadable into a live session. Files written by
// browser agents as bare record lines (no envelope) are accepted too.
package io

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/traceflow/feed"
)

// FeedName is the name used to register this feed.
const FeedName = "io"

// DefaultFilePath is the default trace file path if none is specified.
const DefaultFilePath = "trace.log"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return &Publisher{filePath: filePath, logger: logger}, nil
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return &Subscriber{filePath: filePath, logger: logger}, nil
}

func init() {
	Register()
}

// Register adds this feed to the default registry. Called automatically on
// import; exposed for tests that rebuild the registry.
func Register() {
	feed.RegisterWithCapabilities(FeedName, Build, feed.IOCapabilities)
}

// Build creates a new trace file feed.
func Build(ctx context.Context, cfg feed.Config, logger watermill.LoggerAdapter) (feed.Feed, error) {
	filePath := cfg.GetTraceFile()
	if filePath == "" {
		filePath = DefaultFilePath
	}

	pub, err := PublisherFactory(filePath, logger)
	if err != nil {
		return feed.Feed{}, err
	}

	sub, err := SubscriberFactory(filePath, logger)
	if err != nil {
		return feed.Feed{}, err
	}

	return feed.Feed{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this feed.
func Capabilities() feed.Capabilities {
	return feed.IOCapabilities
}

// storedMessage is the JSON structure for captured messages. Lines that do
// not carry a topic are treated as bare record payloads.
type storedMessage struct {
	UUID     string            `json:"uuid"`
	Metadata map[string]string `json:"metadata"`
	Payload  []byte            `json:"payload"`
	Topic    string            `json:"topic"`
}

// Publisher appends messages to a trace file.
type Publisher struct {
	filePath string
	logger   watermill.LoggerAdapter
	mu       sync.Mutex
}

// Publish appends messages to the trace file.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.OpenFile(p.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, msg := range messages {
		sm := storedMessage{
			UUID:     msg.UUID,
			Metadata: msg.Metadata,
			Payload:  msg.Payload,
			Topic:    topic,
		}

		b, err := json.Marshal(sm)
		if err != nil {
			return err
		}

		if _, err := f.Write(b); err != nil {
			return err
		}
		if _, err := f.WriteString("\n"); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the publisher.
func (p *Publisher) Close() error {
	return nil
}

// Subscriber reads messages from a trace file.
type Subscriber struct {
	filePath string
	logger   watermill.LoggerAdapter
}

var _ feed.Replayer = (*Subscriber)(nil)

// Subscribe tails the trace file and delivers matching messages. The channel
// stays open after the last line so a live capture keeps flowing through.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	out := make(chan *message.Message)

	go func() {
		defer close(out)

		f, err := os.OpenFile(s.filePath, os.O_RDONLY|os.O_CREATE, 0600)
		if err != nil {
			s.logger.Error("Failed to open trace file", err, nil)
			return
		}
		defer f.Close()

		var lastPos int64
		reader := bufio.NewReader(f)

		for {
			select {
			case <-ctx.Done():
				return
			default:
				line, err := reader.ReadBytes('\n')
				if err != nil {
					if err == io.EOF {
						if !s.handleEOF(f, reader, &lastPos) {
							return
						}
						continue
					}
					s.logger.Error("Failed to read trace file", err, nil)
					return
				}

				// Update position after successful read
				currentPos, _ := f.Seek(0, io.SeekCurrent)
				lastPos = currentPos - int64(reader.Buffered())

				if !s.deliverLine(ctx, out, line, topic) {
					return
				}
			}
		}
	}()

	return out, nil
}

// Replay reads the whole trace file from the beginning and delivers every
// matching message in file order, then closes the channel. Unlike Subscribe
// it does not wait for new lines.
func (s *Subscriber) Replay(ctx context.Context, topic string) (<-chan *message.Message, error) {
	f, err := os.Open(s.filePath)
	if err != nil {
		return nil, err
	}

	out := make(chan *message.Message)

	go func() {
		defer close(out)
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), maxTraceLineBytes)
		for scanner.Scan() {
			if !s.deliverLine(ctx, out, scanner.Bytes(), topic) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			s.logger.Error("Failed to scan trace file", err, nil)
		}
	}()

	return out, nil
}

// Close closes the subscriber.
func (s *Subscriber) Close() error {
	return nil
}

// maxTraceLineBytes bounds a single trace line. Profile-data records carry
// whole V8 profiler dumps, so this is generous.
const maxTraceLineBytes = 16 * 1024 * 1024

func (s *Subscriber) handleEOF(f *os.File, reader *bufio.Reader, lastPos *int64) bool {
	currentPos, _ := f.Seek(0, io.SeekCurrent)
	currentPos -= int64(reader.Buffered())

	if currentPos > *lastPos {
		*lastPos = currentPos
	}

	time.Sleep(50 * time.Millisecond)

	if _, err := f.Seek(*lastPos, io.SeekStart); err != nil {
		s.logger.Error("Failed to seek trace file", err, nil)
		return false
	}
	reader.Reset(f)
	return true
}

// deliverLine decodes one trace line and pushes it to out. Enveloped lines
// are filtered by topic; bare record lines (no topic field) are assumed to
// belong to the subscribed topic, so raw agent dumps replay without
// conversion.
func (s *Subscriber) deliverLine(ctx context.Context, out chan<- *message.Message, line []byte, topic string) bool {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return true
	}

	var sm storedMessage
	if err := json.Unmarshal(trimmed, &sm); err != nil {
		s.logger.Error("Failed to unmarshal trace line", err, nil)
		return true
	}

	var msg *message.Message
	if sm.Topic == "" {
		msg = message.NewMessage(watermill.NewUUID(), append([]byte(nil), trimmed...))
	} else {
		if sm.Topic != topic {
			return true
		}
		msg = message.NewMessage(sm.UUID, sm.Payload)
		msg.Metadata = sm.Metadata
	}

	select {
	case out <- msg:
		select {
		case <-msg.Acked():
		case <-msg.Nacked():
			s.logger.Debug("Message nacked", watermill.LogFields{"uuid": msg.UUID})
		case <-ctx.Done():
			return false
		}
	case <-ctx.Done():
		return false
	}
	return true
}
