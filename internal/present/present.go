package present

import (
	"fmt"
	"io"
	"math/rand/v2"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// Palette is the fixed set of author colours
var Palette = [...]lipgloss.Color{
	lipgloss.Color("2"), // green
	lipgloss.Color("1"), // red
	lipgloss.Color("4"), // blue
	lipgloss.Color("3"), // yellow
	lipgloss.Color("6"), // cyan
	lipgloss.Color("0"), // black
	lipgloss.Color("7"), // white
	lipgloss.Color("5"), // purple
}

var noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))

// Presenter renders events to a print sink. An author keeps the colour it
// was first given for the lifetime of the Presenter.
type Presenter struct {
	mu     sync.Mutex
	out    io.Writer
	rng    *rand.Rand
	colors map[string]int
}

// New returns a Presenter writing to out. rng picks colours for authors
// not seen before; pass a seeded source in tests.
func New(out io.Writer, rng *rand.Rand) *Presenter {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Presenter{
		out:    out,
		rng:    rng,
		colors: make(map[string]int),
	}
}

// ColorFor returns the palette index of author (a hex public key),
// picking one on first use
func (p *Presenter) ColorFor(author string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.colorFor(author)
}

func (p *Presenter) colorFor(author string) int {
	if idx, ok := p.colors[author]; ok {
		return idx
	}
	idx := p.rng.IntN(len(Palette))
	p.colors[author] = idx
	return idx
}

// paletteColor panics on an index outside the palette
func paletteColor(idx int) lipgloss.Color {
	if idx < 0 || idx >= len(Palette) {
		panic(fmt.Sprintf("present: palette index %d out of range", idx))
	}
	return Palette[idx]
}

// ShortID is the display handle of a hex public key: characters 4 to 10
// of its npub encoding
func ShortID(pubkey string) string {
	npub, err := nip19.EncodePublicKey(pubkey)
	if err != nil || len(npub) < 10 {
		if len(pubkey) >= 6 {
			return pubkey[:6]
		}
		return pubkey
	}
	return npub[4:10]
}

// Format renders evt as "<short id>: <content>" with the author coloured
func (p *Presenter) Format(evt nostr.Event) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.format(evt)
}

func (p *Presenter) format(evt nostr.Event) string {
	style := lipgloss.NewStyle().Foreground(paletteColor(p.colorFor(evt.PubKey)))
	return style.Render(ShortID(evt.PubKey)) + ": " + evt.Content
}

// Print writes the formatted event as one line
func (p *Presenter) Print(evt nostr.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintln(p.out, p.format(evt))
	return err
}

// Notice writes a relay NOTICE as a diagnostic line
func (p *Presenter) Notice(text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintln(p.out, noticeStyle.Render("[NOTICE] "+text))
	return err
}

// Line writes text unchanged
func (p *Presenter) Line(text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintln(p.out, text)
	return err
}
