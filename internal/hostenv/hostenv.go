// Package hostenv supplies the environment surface exposed to embedded
// realms: the monotonic clock, the static fingerprint fields, the
// deterministic rendering hash, and probe-element geometry.
//
// The engine compares what each realm observes of this surface; a coherent
// host presents identical values everywhere. Tests (and the tamper package)
// substitute implementations that skew individual realms.
package hostenv

import (
	"fmt"
	"hash/fnv"
	"os"
	"runtime"
	"strings"
	"time"
)

// Rect is the geometry of the off-screen probe element as a realm sees it.
// A genuine rect satisfies Right-Left == Width, Bottom-Top == Height,
// X == Left, and Y == Top.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Snapshot is the static field set a realm's navigator/screen surface
// exposes. Fields with zero values are treated as absent in that realm.
type Snapshot struct {
	HardwareConcurrency int
	DeviceMemory        float64
	TimeZone            string
	Locale              string
	Languages           []string
	Platform            string
	UserAgent           string
	ScreenWidth         int
	ScreenHeight        int
	AvailWidth          int
	AvailHeight         int
	ColorDepth          int
	DevicePixelRatio    float64
	GPUVendor           string
	GPURenderer         string
}

// Environment is the surface installed into every embedded realm.
type Environment interface {
	// NowMillis is the realm's monotonic clock in milliseconds, quantized
	// the way performance.now is.
	NowMillis() float64

	// Snapshot returns the static fields for one realm kind. Worker realms
	// do not receive screen geometry.
	Snapshot() Snapshot

	// RenderHash hashes a deterministic draw-command stream. A stable
	// environment returns the same hash for the same commands, always.
	RenderHash(commands string) string

	// ElementRect returns the probe element geometry.
	ElementRect() Rect

	// FrameInterval is the spacing of frame callbacks in realms that have
	// a rendering loop.
	FrameInterval() time.Duration
}

// clockQuantum mirrors the coarsening browsers apply to performance.now.
const clockQuantum = 0.005 // ms

// Native reads the actual host: CPU count, locale environment, the process
// monotonic clock. Screen geometry and GPU strings have no host analog in a
// headless process, so Native carries fixed plausible values that are, by
// construction, identical across realms.
type Native struct {
	start time.Time
	snap  Snapshot
}

// NewNative builds the default environment.
func NewNative() *Native {
	return &Native{
		start: time.Now(),
		snap: Snapshot{
			HardwareConcurrency: runtime.NumCPU(),
			DeviceMemory:        8,
			TimeZone:            localTimeZone(),
			Locale:              localLocale(),
			Languages:           []string{localLocale()},
			Platform:            runtime.GOOS + "/" + runtime.GOARCH,
			UserAgent:           "realmprobe/embedded",
			ScreenWidth:         1920,
			ScreenHeight:        1080,
			AvailWidth:          1920,
			AvailHeight:         1040,
			ColorDepth:          24,
			DevicePixelRatio:    1,
			GPUVendor:           "realmprobe",
			GPURenderer:         "software-reference",
		},
	}
}

func (n *Native) NowMillis() float64 {
	ms := float64(time.Since(n.start).Nanoseconds()) / 1e6
	return float64(int64(ms/clockQuantum)) * clockQuantum
}

func (n *Native) Snapshot() Snapshot { return n.snap }

// RenderHash is an FNV-64a over the command stream mixed with the GPU
// identity, standing in for rasterized pixel bytes. Deterministic per
// environment.
func (n *Native) RenderHash(commands string) string {
	h := fnv.New64a()
	h.Write([]byte(n.snap.GPUVendor))
	h.Write([]byte(n.snap.GPURenderer))
	h.Write([]byte(commands))
	return fmt.Sprintf("%016x", h.Sum64())
}

func (n *Native) ElementRect() Rect {
	return Rect{X: 8, Y: 8, Left: 8, Top: 8, Right: 308, Bottom: 158, Width: 300, Height: 150}
}

func (n *Native) FrameInterval() time.Duration {
	return 16667 * time.Microsecond // 60Hz
}

func localTimeZone() string {
	if tz := os.Getenv("TZ"); tz != "" {
		return tz
	}
	name, _ := time.Now().Zone()
	if name == "" {
		return "UTC"
	}
	return name
}

func localLocale() string {
	for _, key := range []string{"LC_ALL", "LANG"} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		// "en_US.UTF-8" -> "en-US"
		if i := strings.IndexByte(v, '.'); i > 0 {
			v = v[:i]
		}
		if v != "" && v != "C" && v != "POSIX" {
			return strings.ReplaceAll(v, "_", "-")
		}
	}
	return "en-US"
}
