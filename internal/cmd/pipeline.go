package cmd

import (
	"context"
	"fmt"

	"github.com/squadracorsepolito/acmelib"
	"github.com/squadracorsepolito/seda"
	"github.com/squadracorsepolito/seda/can"
	"github.com/squadracorsepolito/seda/cannelloni"
	"github.com/squadracorsepolito/seda/internal"
	"github.com/squadracorsepolito/seda/internal/config"
	"github.com/squadracorsepolito/seda/kafka"
	"github.com/squadracorsepolito/seda/message"
	"github.com/squadracorsepolito/seda/questdb"
	"github.com/squadracorsepolito/seda/udp"
)

type sink interface {
	seda.Processor
	Close(ctx context.Context) error
}

// pipeline is the CAN telemetry pipeline:
// udp source -> ingress -> cannelloni -> can -> questdb or kafka.
type pipeline struct {
	cfg *config.Config

	d      *seda.Dispatcher
	source *udp.Source
	sink   sink
}

func newPipeline(cfg *config.Config) (*pipeline, error) {
	messages, err := loadMessages(cfg.CAN)
	if err != nil {
		return nil, err
	}

	sink, err := newSink(cfg)
	if err != nil {
		return nil, err
	}

	p := &pipeline{
		cfg: cfg,

		d:    seda.NewDispatcher(),
		sink: sink,
	}

	processors := map[string]seda.Processor{
		config.StageIngress:    seda.NewRouter(map[string]string{udp.DatagramKind: config.StageCannelloni}, ""),
		config.StageCannelloni: cannelloni.NewDecoder(config.StageCAN),
		config.StageCAN:        can.NewDecoder(messages, cfg.Sink),
		cfg.Sink:               sink,
	}

	for _, name := range cfg.FlowStages() {
		sc := cfg.Stages[name]
		if _, err := seda.NewStage(name, processors[name], p.d, sc.SEDA(), sc.Options()...); err != nil {
			p.close()
			return nil, err
		}
	}

	if cfg.DeadLetter {
		if _, err := seda.NewStage(message.RejectKind, newDeadLetter(), p.d, nil); err != nil {
			p.close()
			return nil, err
		}
	}

	if err := p.d.Construction(); err != nil {
		p.close()
		return nil, err
	}

	p.source = udp.NewSource(&udp.Config{
		IPAddr:      cfg.UDP.Address,
		Port:        cfg.UDP.Port,
		PayloadSize: cfg.UDP.PayloadSize,
	}, p.d, config.StageIngress)

	if err := p.source.Init(); err != nil {
		p.close()
		return nil, err
	}

	return p, nil
}

func (p *pipeline) run(ctx context.Context, cfg *config.Config) error {
	p.d.StartAdjust(cfg.AdjustInterval)
	return p.source.Run(ctx)
}

// close shuts the stages down in data flow order, the dead-letter stage
// last so that it receives the leftovers of the others.
func (p *pipeline) close() {
	for _, name := range p.cfg.FlowStages() {
		if s, ok := p.d.Stage(name); ok {
			s.Shutdown()
		}
	}

	p.d.Shutdown()

	// Errors are logged by the sink
	_ = p.sink.Close(context.Background())
}

func newSink(cfg *config.Config) (sink, error) {
	if cfg.Sink == config.StageKafka {
		return kafka.NewPublisher(&kafka.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			Async:        cfg.Kafka.Async,
		}), nil
	}

	writer, err := questdb.NewWriter(&questdb.Config{
		Address:       cfg.QuestDB.Address,
		AutoFlushRows: cfg.QuestDB.AutoFlushRows,
		RetryTimeout:  cfg.QuestDB.RetryTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("questdb: %w", err)
	}

	return writer, nil
}

func loadMessages(cfg config.CANConfig) ([]*acmelib.Message, error) {
	if cfg.DBC != "" {
		return can.LoadDBC(cfg.DBC)
	}
	return can.SyntheticMessages(cfg.SyntheticMessages)
}

// newDeadLetter returns the processor of the dead-letter stage,
// logging every rejection it receives.
func newDeadLetter() seda.Processor {
	l := internal.NewLogger("stage", message.RejectKind)

	return seda.ProcessorFunc(func(_ context.Context, msg message.Message, _ *seda.Dispatcher) error {
		rej, ok := msg.(*message.Reject)
		if !ok {
			return fmt.Errorf("%w: %T", seda.ErrUnexpectedMessage, msg)
		}

		l.Warn("dead letter",
			"reject_type", rej.Type.String(),
			"info", rej.Info,
			"original_kind", message.KindOf(rej.Original),
			"tag", rej.Tag(),
		)

		return nil
	})
}
