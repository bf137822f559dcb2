// distance-probe prints every distance datagram arriving on the governor's
// UDP endpoint. It lets a technician verify the camera feed without starting
// the governor itself.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"speed-governor-service/sensor"
)

var (
	udpHost = flag.String("udp_host", sensor.DefaultListenHost, "Distance feed listen address")
	udpPort = flag.Int("udp_port", sensor.DefaultListenPort, "Distance feed listen port")
)

type printSink struct{}

func (printSink) Publish(sample sensor.DistanceSample) {
	fmt.Printf("%s  %.3f m\n", sample.ReceivedAt.Format("15:04:05.000"), sample.Meters)
}

func main() {
	flag.Parse()

	listener := sensor.NewListener(nil, sensor.ListenerConfig{
		Host: *udpHost,
		Port: *udpPort,
	}, printSink{})

	if err := listener.Listen(); err != nil {
		log.Fatalf("failed to bind: %v", err)
	}
	defer listener.Close()

	fmt.Printf("Listening for distance datagrams on %v (Ctrl-C to exit)\n", listener.LocalAddr())

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("listener failed: %v", err)
	}

	received, dropped := listener.Stats()
	fmt.Printf("\n%d datagrams received, %d dropped\n", received, dropped)
}
