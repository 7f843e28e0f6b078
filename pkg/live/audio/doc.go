// Package audio implements the local audio path of a live session.
//
//	Microphone → CaptureEncoder (GainRamp, 4096-sample frames) → PCM16 chunks → outbox
//	inbound PCM16 → Scheduler (gapless timeline, hard interrupt) → Sink
//
// Capture runs at 16 kHz and playback at 24 kHz, both mono. Devices are
// provided by malgo (capture) and oto (playback); the encoder and scheduler only
// see the Microphone and Sink interfaces so they can be driven by fakes.
package audio
