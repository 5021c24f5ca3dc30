package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ronittamrakar/jobqueue/client"
	"github.com/ronittamrakar/jobqueue/jobmanager"
	"github.com/ronittamrakar/jobqueue/types"
	"github.com/ronittamrakar/jobqueue/types/config"
)

type sms struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewQueueConfig("west-canada",
		config.WithSQLiteConfig(config.SQLiteConfig{Path: "example.db"}),
		config.WithWorkerCount(15),
		config.WithPollInterval(500*time.Millisecond),
		config.WithAPIAddr(":8080"),
		config.WithHandler("send_sms", sendSms),
	)
	if err != nil {
		log.Fatal(err)
	}

	c, err := jobmanager.Bootstrap(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	for i := 0; i < 20; i++ {
		to := fmt.Sprintf("phone-%d", i)
		_, _, err := c.JobManager.Schedule(ctx, "send_sms",
			sms{To: to, Message: "your code is 1234"},
			client.WithJobKey("sms-"+to),
			client.WithPriority(i%3),
		)
		if err != nil {
			log.Println(err.Error())
		}
	}
	_, _, _ = c.JobManager.ScheduleIn(ctx, "send_sms", sms{To: "phone-late", Message: "reminder"}, time.Minute)

	if err := jobmanager.Run(ctx, c, jobmanager.AllServices); err != nil && !errors.Is(err, context.Canceled) {
		log.Println(err.Error())
	}
}

func sendSms(_ context.Context, job *types.Job) (any, error) {
	var msg sms
	if err := job.DecodePayload(&msg); err != nil {
		return nil, err
	}
	if strings.HasPrefix(msg.To, "phone-1") && job.Attempts < 2 {
		return nil, errors.New("carrier unavailable")
	}
	fmt.Printf("Sending SMS to %s:\n%s\n", msg.To, msg.Message)
	return map[string]string{"delivered_to": msg.To}, nil
}
