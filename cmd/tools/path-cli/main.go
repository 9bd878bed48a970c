package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/annel0/voxel-nav/internal/config"
	"github.com/annel0/voxel-nav/internal/logging"
	"github.com/annel0/voxel-nav/internal/pathfinding"
	"github.com/annel0/voxel-nav/internal/terrain"
	"github.com/annel0/voxel-nav/internal/voxel"
	"gonum.org/v1/gonum/spatial/r3"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config (defaults used when empty)")
		width      = flag.Int("width", 0, "Forest width along X (0 = from config)")
		depth      = flag.Int("depth", 0, "Forest depth along Z (0 = from config)")
		height     = flag.Float64("height", 0, "World height along Y (0 = from config)")
		cellSize   = flag.Float64("cell", 0, "Cell size (0 = from config)")
		seed       = flag.Int64("seed", 0, "Forest and sampling seed (0 = from config)")
		startFlag  = flag.String("start", "", "Start position x,y,z (random walkable when empty)")
		goalFlag   = flag.String("goal", "", "Goal position x,y,z (random walkable when empty)")
		smooth     = flag.Int("smooth", 0, "Catmull-Rom points per segment (0 = no smoothing)")
		maxIter    = flag.Int("max-iter", -1, "Max expanded cells (-1 = from config, 0 = unlimited)")
		timeout    = flag.Duration("timeout", -1, "Search timeout (-1 = from config, 0 = unlimited)")
		asJSON     = flag.Bool("json", false, "Print result as JSON")
		verbose    = flag.Bool("v", false, "Debug logging")
	)
	flag.Parse()

	if *verbose {
		logging.Default().SetLevel(logging.DEBUG)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Config: %v", err)
	}
	applyOverrides(cfg, *width, *depth, *height, *cellSize, *seed, *maxIter, *timeout)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Config: %v", err)
	}

	start, err := parseOptionalVec(*startFlag)
	if err != nil {
		log.Fatalf("❌ -start: %v", err)
	}
	goal, err := parseOptionalVec(*goalFlag)
	if err != nil {
		log.Fatalf("❌ -goal: %v", err)
	}

	if err := run(cfg, start, goal, *smooth, *asJSON); err != nil {
		if errors.Is(err, pathfinding.ErrNoPath) {
			fmt.Println("🚫 No path between start and goal")
			os.Exit(2)
		}
		log.Fatalf("❌ %v", err)
	}
}

func applyOverrides(cfg *config.Config, width, depth int, height, cellSize float64, seed int64, maxIter int, timeout time.Duration) {
	if width > 0 {
		cfg.Terrain.Width = width
	}
	if depth > 0 {
		cfg.Terrain.Depth = depth
	}
	if height > 0 {
		cfg.Grid.Height = height
	}
	if cellSize > 0 {
		cfg.Grid.CellSize = cellSize
	}
	if seed != 0 {
		cfg.Terrain.Seed = seed
	}
	if maxIter >= 0 {
		cfg.Search.MaxIterations = maxIter
	}
	if timeout >= 0 {
		cfg.Search.Timeout = timeout
	}
}

func run(cfg *config.Config, start, goal *r3.Vec, smooth int, asJSON bool) error {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(cfg.Terrain.Seed))

	var protected []r3.Vec
	for _, p := range []*r3.Vec{start, goal} {
		if p != nil {
			protected = append(protected, *p)
		}
	}

	fg, err := terrain.NewForestGenerator(cfg.Terrain)
	if err != nil {
		return err
	}

	ext := voxel.Extents{
		Width:  float64(cfg.Terrain.Width),
		Depth:  float64(cfg.Terrain.Depth),
		Height: cfg.Grid.Height,
	}
	dims, err := cfg.Grid.Voxel().Plan(ext)
	if err != nil {
		return err
	}

	began := time.Now()
	scene, trees := fg.BuildScene(cfg.Grid.BucketSize, protected...)
	scene.SetBounds(cfg.Grid.Voxel().Bounds(dims))
	grid, err := voxel.Generate(ctx, cfg.Grid.Voxel(), ext, scene)
	if err != nil {
		return err
	}
	generation := time.Since(began)

	if start == nil {
		cell, err := grid.RandomWalkableCell(rng)
		if err != nil {
			return err
		}
		start = &cell.Position
	}
	if goal == nil {
		cell, err := grid.RandomWalkableCell(rng)
		if err != nil {
			return err
		}
		goal = &cell.Position
	}

	finder := pathfinding.NewFinder(
		pathfinding.WithMaxIterations(cfg.Search.MaxIterations),
		pathfinding.WithTimeout(cfg.Search.Timeout),
	)
	began = time.Now()
	res, err := finder.FindPath(ctx, grid, *start, *goal)
	search := time.Since(began)
	if err != nil {
		return err
	}

	var smoothed []r3.Vec
	if smooth > 0 {
		smoothed = pathfinding.SmoothCatmullRom(res.Waypoints, smooth)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			*pathfinding.Result
			Start    r3.Vec   `json:"start"`
			Goal     r3.Vec   `json:"goal"`
			Smoothed []r3.Vec `json:"smoothed,omitempty"`
		}{res, *start, *goal, smoothed})
	}

	fmt.Printf("🌲 Trees: %d, %s (generated in %v)\n", len(trees), grid.GetStats(), generation)
	fmt.Printf("🧭 %s -> %s\n", formatVec(*start), formatVec(*goal))
	fmt.Printf("✅ Path: %d waypoints, cost %.3f, expanded %d cells in %v\n",
		len(res.Waypoints), res.Cost, res.Expanded, search)
	for i, p := range res.Waypoints {
		fmt.Printf("  %4d  %s\n", i, formatVec(p))
	}
	if smoothed != nil {
		fmt.Printf("〰️ Smoothed: %d points, length %.3f\n", len(smoothed), pathfinding.PathCost(smoothed))
	}
	return nil
}

func parseOptionalVec(s string) (*r3.Vec, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return nil, fmt.Errorf("expected x,y,z, got %q", s)
	}
	var xyz [3]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("coordinate %d: %w", i, err)
		}
		xyz[i] = v
	}
	return &r3.Vec{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}

func formatVec(v r3.Vec) string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f)", v.X, v.Y, v.Z)
}
