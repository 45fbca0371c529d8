package training

import "math"

// LRSetter is anything whose learning rate a scheduler drives.
type LRSetter interface {
	LR() float64
	SetLR(lr float64)
}

// StepLR multiplies the learning rate by Gamma every StepSize epochs.
type StepLR struct {
	opt      LRSetter
	baseLR   float64
	StepSize int
	Gamma    float64
	epoch    int
}

func NewStepLR(opt LRSetter, stepSize int, gamma float64) *StepLR {
	return &StepLR{opt: opt, baseLR: opt.LR(), StepSize: stepSize, Gamma: gamma}
}

// Step is called once per epoch.
func (s *StepLR) Step() {
	s.epoch++
	s.opt.SetLR(s.baseLR * math.Pow(s.Gamma, float64(s.epoch/s.StepSize)))
}

func (s *StepLR) LR() float64 { return s.opt.LR() }
