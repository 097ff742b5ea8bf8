package speech

import (
	"context"
	"strings"
	"sync"

	"github.com/knowtide/knowtide/pkg/logger"
)

// utterance is one sentence moving through synthesis toward playback. ready
// is closed when synthesis finishes, successfully or not.
type utterance struct {
	text  string
	audio []byte
	err   error
	ready chan struct{}
}

// OutputQueue accumulates speakable text into sentences, synthesizes each
// sentence as soon as it is complete, and plays the results strictly in
// enqueue order. Synthesis requests run concurrently; playback waits for
// each utterance's audio in turn, so a slow early sentence never lets a
// fast later one jump the queue. Exactly one utterance plays at a time.
type OutputQueue struct {
	synth  Synthesizer
	player Player
	log    *logger.Logger

	mu     sync.Mutex
	buffer string
	closed bool

	pending chan *utterance
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewOutputQueue starts the playback loop. Close must be called to stop it.
func NewOutputQueue(synth Synthesizer, player Player) *OutputQueue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &OutputQueue{
		synth:   synth,
		player:  player,
		log:     logger.WithComponent("speech_queue"),
		pending: make(chan *utterance, 128),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go q.playbackLoop()
	return q
}

// EnqueueSpeakable adds stream text to the sentence buffer and submits every
// newly completed sentence for synthesis. The trailing incomplete sentence
// stays buffered until its terminator arrives.
func (q *OutputQueue) EnqueueSpeakable(text string) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.buffer += text
	sentences, remainder := splitSentences(q.buffer)
	q.buffer = remainder

	var submitted []*utterance
	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		u := &utterance{text: sentence, ready: make(chan struct{})}
		select {
		case q.pending <- u:
			submitted = append(submitted, u)
		default:
			q.log.Warn("speech queue full, dropping sentence", "sentence", sentence)
		}
	}
	q.mu.Unlock()

	for _, u := range submitted {
		go q.synthesize(u)
	}
}

func (q *OutputQueue) synthesize(u *utterance) {
	defer close(u.ready)
	u.audio, u.err = q.synth.Synthesize(q.ctx, u.text)
}

// playbackLoop consumes utterances in submission order, waiting for each
// one's synthesis before playing it. A failed synthesis is skipped and the
// loop moves on.
func (q *OutputQueue) playbackLoop() {
	defer close(q.done)
	for {
		var u *utterance
		select {
		case u = <-q.pending:
		case <-q.ctx.Done():
			return
		}

		select {
		case <-u.ready:
		case <-q.ctx.Done():
			return
		}

		if u.err != nil {
			q.log.Warn("skipping failed utterance", "sentence", u.text, "error", u.err)
			continue
		}
		if err := q.player.Play(q.ctx, u.audio); err != nil && q.ctx.Err() == nil {
			q.log.Warn("playback failed", "sentence", u.text, "error", err)
		}
	}
}

// Close stops playback and discards any in-flight synthesis results. Safe to
// call more than once.
func (q *OutputQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.buffer = ""
	q.mu.Unlock()

	q.cancel()
	<-q.done
}
