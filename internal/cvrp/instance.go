package cvrp

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Depot is the node index reserved for the depot.
const Depot = 0

// Point is an integer node position.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Instance is a CVRP instance. It must not be mutated after Load returns
// and is then safe for concurrent readers.
type Instance struct {
	Name      string
	Size      int
	Capacity  float64
	Positions []Point
	Demands   []float64

	cost [][]float64
}

// NewInstance builds an instance from already parsed data and derives the
// edge costs.
func NewInstance(name string, capacity float64, positions []Point, demands []float64) (*Instance, error) {
	if len(positions) == 0 {
		return nil, malformed("new instance", 0, "no nodes")
	}
	if len(demands) != len(positions) {
		return nil, malformed("new instance", 0, "%d demands for %d nodes", len(demands), len(positions))
	}
	inst := &Instance{
		Name:      name,
		Size:      len(positions),
		Capacity:  capacity,
		Positions: append([]Point(nil), positions...),
		Demands:   append([]float64(nil), demands...),
	}
	if err := inst.validate("new instance"); err != nil {
		return nil, err
	}
	inst.ComputeEdgeCosts()
	return inst, nil
}

// LoadFile reads an instance file. Read failures are ErrIO.
func LoadFile(path string) (*Instance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newError(ErrIO, "open instance", err)
	}
	defer f.Close()
	inst, err := Load(f)
	if err != nil {
		return nil, err
	}
	inst.Name = strings.TrimSuffix(path[strings.LastIndexAny(path, `/\`)+1:], ".vrp")
	return inst, nil
}

// Load parses the line-oriented instance format: node count, capacity,
// one "<id> <x> <y>" line per node, then one "<id> <demand>" line per node.
// Blank lines are ignored.
func Load(r io.Reader) (*Instance, error) {
	p := &parser{sc: bufio.NewScanner(r)}
	size, err := p.int("read size")
	if err != nil {
		return nil, err
	}
	if size < 1 {
		return nil, malformed("read size", p.line, "node count %d must be positive", size)
	}
	capacity, err := p.float("read capacity")
	if err != nil {
		return nil, err
	}
	inst := &Instance{Size: size, Capacity: capacity, Positions: make([]Point, size), Demands: make([]float64, size)}
	for i := 0; i < size; i++ {
		f, err := p.fields("read position", 3)
		if err != nil {
			return nil, err
		}
		x, errX := strconv.Atoi(f[1])
		y, errY := strconv.Atoi(f[2])
		if _, errID := strconv.Atoi(f[0]); errID != nil || errX != nil || errY != nil {
			return nil, malformed("read position", p.line, "non-numeric position record %q", strings.Join(f, " "))
		}
		inst.Positions[i] = Point{X: x, Y: y}
	}
	for i := 0; i < size; i++ {
		f, err := p.fields("read demand", 2)
		if err != nil {
			return nil, err
		}
		d, errD := strconv.ParseFloat(f[1], 64)
		if _, errID := strconv.Atoi(f[0]); errID != nil || errD != nil {
			return nil, malformed("read demand", p.line, "non-numeric demand record %q", strings.Join(f, " "))
		}
		inst.Demands[i] = d
	}
	if err := inst.validate("load instance"); err != nil {
		return nil, err
	}
	inst.ComputeEdgeCosts()
	return inst, nil
}

func (inst *Instance) validate(op string) error {
	if !(inst.Capacity > 0) || math.IsInf(inst.Capacity, 0) {
		return malformed(op, 0, "capacity %g must be positive", inst.Capacity)
	}
	for i, d := range inst.Demands {
		if d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			return malformed(op, 0, "node %d has invalid demand %g", i, d)
		}
	}
	if inst.Demands[Depot] != 0 {
		log.WithField("demand", inst.Demands[Depot]).Warn("depot demand is not zero; it is ignored by routes")
	}
	return nil
}

// ComputeEdgeCosts derives the symmetric cost matrix from the positions as
// rounded euclidean distances. Calling it again overwrites the matrix with
// the same values.
func (inst *Instance) ComputeEdgeCosts() {
	cost := make([][]float64, inst.Size)
	for i := range cost {
		cost[i] = make([]float64, inst.Size)
	}
	for i := 0; i < inst.Size; i++ {
		for j := i; j < inst.Size; j++ {
			dx := float64(inst.Positions[i].X - inst.Positions[j].X)
			dy := float64(inst.Positions[i].Y - inst.Positions[j].Y)
			c := math.Round(math.Sqrt(dx*dx + dy*dy))
			cost[i][j], cost[j][i] = c, c
		}
	}
	inst.cost = cost
}

// Cost returns the edge cost between i and j.
func (inst *Instance) Cost(i, j int) float64 { return inst.cost[i][j] }

// CostMatrix returns a copy of the cost matrix.
func (inst *Instance) CostMatrix() [][]float64 {
	out := make([][]float64, len(inst.cost))
	for i, row := range inst.cost {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// Customers is the number of non-depot nodes.
func (inst *Instance) Customers() int { return inst.Size - 1 }

// TotalDemand sums the customer demands.
func (inst *Instance) TotalDemand() float64 {
	s := 0.0
	for i := 1; i < inst.Size; i++ {
		s += inst.Demands[i]
	}
	return s
}

// MinVehicles is the trivial lower bound ceil(total demand / capacity).
func (inst *Instance) MinVehicles() int {
	return int(math.Ceil(inst.TotalDemand() / inst.Capacity))
}

// WriteTo writes the instance in the format Load reads.
func (inst *Instance) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%d\n%s\n", inst.Size, strconv.FormatFloat(inst.Capacity, 'f', -1, 64))
	for i, p := range inst.Positions {
		fmt.Fprintf(&b, "%d %d %d\n", i, p.X, p.Y)
	}
	for i, d := range inst.Demands {
		fmt.Fprintf(&b, "%d %s\n", i, strconv.FormatFloat(d, 'f', -1, 64))
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

type parser struct {
	sc   *bufio.Scanner
	line int
}

// fields returns the next non-blank line split on whitespace, which must
// hold exactly n tokens.
func (p *parser) fields(op string, n int) ([]string, error) {
	for p.sc.Scan() {
		p.line++
		f := strings.Fields(p.sc.Text())
		if len(f) == 0 {
			continue
		}
		if len(f) != n {
			return nil, malformed(op, p.line, "want %d tokens, got %d", n, len(f))
		}
		return f, nil
	}
	if err := p.sc.Err(); err != nil {
		return nil, newError(ErrIO, op, err)
	}
	return nil, malformed(op, p.line+1, "unexpected end of input")
}

func (p *parser) int(op string) (int, error) {
	f, err := p.fields(op, 1)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(f[0])
	if err != nil {
		return 0, malformed(op, p.line, "not an integer: %q", f[0])
	}
	return v, nil
}

func (p *parser) float(op string) (float64, error) {
	f, err := p.fields(op, 1)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(f[0], 64)
	if err != nil {
		return 0, malformed(op, p.line, "not a number: %q", f[0])
	}
	return v, nil
}
