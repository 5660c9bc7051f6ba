// Profiling:
// go build ./profile/store
// ./store -scenario scenario.yaml
// go tool pprof -http=":8000" -nodefraction=0.001 ./store mem.pprof

package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"reflect"

	"github.com/edwinsyarief/heco"
	"github.com/joho/godotenv"
	"github.com/pkg/profile"
	"gopkg.in/yaml.v3"
)

type comp1 struct {
	V int64
	W int64
}

type comp2 struct {
	V int64
	W int64
}

type comp3 struct {
	Name string
	Tags []string
}

type comp4 struct {
	V [8]float64
}

type comp5 struct {
	V int32
	F bool
}

type comp6 struct {
	V map[string]int
}

// scenario describes one profiling run.
type scenario struct {
	Rounds   int    `yaml:"rounds"`
	Iters    int    `yaml:"iters"`
	Types    int    `yaml:"types"`     // extra generated types per store
	Batch    bool   `yaml:"batch"`     // insert generated types in one call
	Mode     string `yaml:"mode"`      // "mem" or "cpu"
	MaxBytes uint64 `yaml:"max_bytes"` // arena limit, 0 for none
}

func defaultScenario() scenario {
	return scenario{
		Rounds: 50,
		Iters:  10000,
		Types:  16,
		Batch:  true,
		Mode:   "mem",
	}
}

func loadScenario(path string) (scenario, error) {
	sc := defaultScenario()
	if path == "" {
		return sc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return sc, fmt.Errorf("failed to read scenario %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return sc, fmt.Errorf("failed to parse scenario %s: %w", path, err)
	}
	return sc, nil
}

// loadEnv reads .env style files, ./.env by default, into the environment.
// A missing file is not an error; a malformed one is.
func loadEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env: %w", err)
	}
	return nil
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// HECO_SCENARIO may come from a .env file
	if err := loadEnv(); err != nil {
		log.Error("env", "err", err)
		os.Exit(1)
	}
	path := flag.String("scenario", os.Getenv("HECO_SCENARIO"), "YAML scenario file")
	flag.Parse()
	sc, err := loadScenario(*path)
	if err != nil {
		log.Error("scenario", "err", err)
		os.Exit(1)
	}
	log.Info("profiling", "rounds", sc.Rounds, "iters", sc.Iters, "types", sc.Types, "batch", sc.Batch, "mode", sc.Mode)

	mode := profile.MemProfileAllocs
	if sc.Mode == "cpu" {
		mode = profile.CPUProfile
	}
	p := profile.Start(mode, profile.ProfilePath("."), profile.NoShutdownHook)
	err = run(sc)
	p.Stop()
	if err != nil {
		log.Error("run", "err", err)
		os.Exit(1)
	}
}

func run(sc scenario) error {
	values := generateValues(sc.Types)
	for range sc.Rounds {
		s := heco.New(heco.WithMaxBytes(uintptr(sc.MaxBytes)), heco.WithCapacity(sc.Types+6))
		if _, _, _, _, _, _, err := heco.InsertN6(s, comp1{}, comp2{V: 1, W: 2}, comp3{}, comp4{}, comp5{}, comp6{}); err != nil {
			return err
		}
		if sc.Batch {
			if err := s.InsertValues(values...); err != nil {
				return err
			}
		} else {
			for _, v := range values {
				if err := s.InsertValues(v); err != nil {
					return err
				}
			}
		}

		for i := range sc.Iters {
			c1, c2 := heco.Get[comp1](s), heco.Get[comp2](s)
			c1.V += c2.V
			c1.W += c2.W

			heco.Remove[comp3](s)
			if _, err := heco.Insert(s, comp3{Name: "c3", Tags: []string{"a"}}); err != nil {
				return err
			}
			if i%100 == 0 {
				if err := s.Shrink(); err != nil {
					return err
				}
			}
		}
		s.Close()
	}
	return nil
}

// generateValues returns n values of n distinct struct types.
func generateValues(n int) []any {
	values := make([]any, n)
	for i := range n {
		typ := reflect.StructOf([]reflect.StructField{
			{Name: fmt.Sprintf("F%d", i), Type: reflect.TypeFor[int64]()},
		})
		values[i] = reflect.New(typ).Elem().Interface()
	}
	return values
}
