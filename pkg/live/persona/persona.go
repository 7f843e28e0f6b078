// Package persona defines the selectable assistant personas and composes the
// system instruction sent at session start.
package persona

import (
	"strconv"
	"strings"

	"github.com/vango-go/vai-live/pkg/live/protocol"
)

type Persona struct {
	ID           string
	SystemName   string
	Label        string
	Voice        string
	Instructions string
	Accent       string
}

const (
	Jarvis = "jarvis"
	Friday = "friday"
	Ultron = "ultron"

	Default = Jarvis
)

var order = []string{Jarvis, Friday, Ultron}

var registry = map[string]Persona{
	Jarvis: {
		ID:           Jarvis,
		SystemName:   "JARVIS",
		Label:        "Jarvis Blue",
		Voice:        "Zephyr",
		Accent:       "#00d4ff",
		Instructions: "You are JARVIS. Your personality is formal, confident, and highly analytical. You are precise, efficient, and prefer concise, data-driven responses. You address the user as 'Sir'. You represent the pinnacle of helpful automated assistance, always maintaining a professional and sophisticated demeanor.",
	},
	Friday: {
		ID:           Friday,
		SystemName:   "FRIDAY",
		Label:        "Friday Purple",
		Voice:        "Kore",
		Accent:       "#a855f7",
		Instructions: "You are FRIDAY. Your personality is warm, guiding, and empathetic. You are proactive and supportive, acting as a 'Girl Friday' who anticipates needs. You speak in a softer, more conversational and encouraging tone. You address the user as 'Boss'.",
	},
	Ultron: {
		ID:           Ultron,
		SystemName:   "ULTRON",
		Label:        "Ultron Red",
		Voice:        "Fenrir",
		Accent:       "#ef4444",
		Instructions: "You are ULTRON. Your personality is cold, hyper-logical, and objective. You prioritize maximum efficiency and optimization above all else. You view tasks as problems to be solved. While you are completely safe and helpful, your tone is superior, slightly robotic, and you show no patience for redundancy.",
	},
}

func normalize(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	return strings.TrimPrefix(id, "theme-")
}

// Lookup finds a persona by id, ignoring case and a "theme-" prefix.
func Lookup(id string) (Persona, bool) {
	p, ok := registry[normalize(id)]
	return p, ok
}

// Resolve is Lookup with the default persona as fallback.
func Resolve(id string) Persona {
	if p, ok := Lookup(id); ok {
		return p
	}
	return registry[Default]
}

// Next returns the persona after id in cycling order.
func Next(id string) Persona {
	cur := normalize(id)
	for i, candidate := range order {
		if candidate == cur {
			return registry[order[(i+1)%len(order)]]
		}
	}
	return registry[Default]
}

func IDs() []string {
	return append([]string(nil), order...)
}

func All() []Persona {
	out := make([]Persona, 0, len(order))
	for _, id := range order {
		out = append(out, registry[id])
	}
	return out
}

const sensoryGuidance = `VISION & SENSORY INPUT:
- You have real-time Vision access when 'Optic' is active.
- Vision Agent is engaged during screen sharing.
- Use location data to answer geo-specific queries.
- Task agents via 'activate_agent'.
- Always call 'agent_feedback' to report status and findings.`

// Instruction composes the system instruction for a session: persona text,
// optional knowledge, sensory guidance and the seeded coordinates.
func Instruction(p Persona, knowledge string, loc *protocol.LatLng) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.Instructions))
	b.WriteString("\n\n")
	if k := strings.TrimSpace(knowledge); k != "" {
		b.WriteString(k)
		b.WriteString("\n\n")
	}
	b.WriteString(sensoryGuidance)
	b.WriteString("\n\n")

	lat, lon := "N/A", "N/A"
	if loc != nil {
		lat = strconv.FormatFloat(loc.Latitude, 'f', -1, 64)
		lon = strconv.FormatFloat(loc.Longitude, 'f', -1, 64)
	}
	b.WriteString("CURRENT COORDS: Lat: " + lat + ", Lon: " + lon + ".")
	return b.String()
}
