package queue

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/amangupta62/sales-call-analysis-microservice/internal/pipeline"
)

// AMQPTrigger delivers pipeline tasks through a durable broker queue. The
// broker's redelivery gives the at-least-once guarantee; consumers ack only
// after Advance returns, so a crashed worker's task comes back.
type AMQPTrigger struct {
	log     *logrus.Entry
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	tasks   chan Task
}

func NewAMQPTrigger(log *logrus.Entry, url, queueName string) (*AMQPTrigger, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, pipeline.Transient("amqp dial", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, pipeline.Transient("amqp channel", err)
	}
	if _, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		conn.Close()
		return nil, pipeline.Transient("amqp queue declare", err)
	}

	t := &AMQPTrigger{
		log:     log.WithField("queue", queueName),
		conn:    conn,
		channel: ch,
		queue:   queueName,
		tasks:   make(chan Task),
	}
	if err := t.consume(); err != nil {
		conn.Close()
		return nil, err
	}
	t.log.Info("connected to amqp task trigger")
	return t, nil
}

func (t *AMQPTrigger) Publish(_ context.Context, task Task) error {
	if task.DeliveryID == "" {
		task.DeliveryID = uuid.New().String()
	}
	body, err := json.Marshal(task)
	if err != nil {
		return pipeline.Permanent("marshal task", err)
	}
	if err := t.channel.Publish(
		"",      // exchange
		t.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    task.DeliveryID,
			Body:         body,
		},
	); err != nil {
		return pipeline.Transient("amqp publish", err)
	}
	return nil
}

func (t *AMQPTrigger) consume() error {
	deliveries, err := t.channel.Consume(
		t.queue,
		"",    // consumer tag
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return pipeline.Transient("amqp consume", err)
	}

	go func() {
		defer close(t.tasks)
		for d := range deliveries {
			var task Task
			if err := json.Unmarshal(d.Body, &task); err != nil {
				t.log.WithError(err).Warn("dropping malformed task")
				_ = d.Nack(false, false)
				continue
			}
			d := d
			task.Ack = func() { _ = d.Ack(false) }
			t.tasks <- task
		}
	}()
	return nil
}

func (t *AMQPTrigger) Tasks() <-chan Task { return t.tasks }

func (t *AMQPTrigger) Close() error {
	if err := t.channel.Close(); err != nil {
		return err
	}
	return t.conn.Close()
}
