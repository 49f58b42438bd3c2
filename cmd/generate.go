package main

import (
	"io"
	"os"

	"sched-sim/internal/logging"
	"sched-sim/internal/task"
	"sched-sim/internal/workload"

	"github.com/sirupsen/logrus"
)

type generateOptions struct {
	tasks       int
	cpus        int
	numIO       int
	ioOffset    int
	seed        uint64
	out         string
	maxCPUBurst int
	maxIOBurst  int
	maxCPUTime  int
}

func defaultGenerateOptions() generateOptions {
	d := workload.DefaultGeneratorOptions()
	return generateOptions{
		tasks:       d.Tasks,
		cpus:        d.NumCPU,
		numIO:       d.Layout.NumIO,
		ioOffset:    d.Layout.IOOffset,
		seed:        d.Seed,
		out:         "-",
		maxCPUBurst: d.MaxCPUBurst,
		maxIOBurst:  d.MaxIOBurst,
		maxCPUTime:  d.MaxCPUTime,
	}
}

func (o generateOptions) generator() workload.GeneratorOptions {
	return workload.GeneratorOptions{
		Tasks:       o.tasks,
		NumCPU:      o.cpus,
		Layout:      task.Layout{NumCPU: o.cpus, NumIO: o.numIO, IOOffset: o.ioOffset},
		MaxCPUBurst: o.maxCPUBurst,
		MaxIOBurst:  o.maxIOBurst,
		MaxCPUTime:  o.maxCPUTime,
		Seed:        o.seed,
	}
}

func generateWorkload(o generateOptions) error {
	logger := logging.GetLogger()

	gen, err := workload.NewGenerator(o.generator())
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if o.out != "-" && o.out != "" {
		f, err := os.Create(o.out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	counts, err := gen.Write(w)
	if err != nil {
		logger.WithField("out", o.out).WithError(err).Error("Failed to write workload")
		return err
	}

	fields := logrus.Fields{"tasks": o.tasks, "seed": o.seed, "out": o.out}
	for kind, n := range counts {
		fields[kind.String()] = n
	}
	logger.WithFields(fields).Info("Generated workload")
	return nil
}
