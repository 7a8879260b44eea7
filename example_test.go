package gcunified_test

import (
	"context"
	"fmt"
	"time"

	"github.com/gcunified/client"
)

func Example() {
	c := gcunified.New(gcunified.Options{
		Host:        "192.168.1.50",
		Port:        4998,
		SendTimeout: 3 * time.Second,
	})
	defer c.Close(gcunified.WithDrain(time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		fmt.Println("connect failed:", err)
		return
	}

	resp, err := c.Send(ctx, "getdevices")
	if err != nil {
		fmt.Println("send failed:", err)
		return
	}
	fmt.Println(resp)
}
