package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"speed-governor-service/rtde"
	"speed-governor-service/sensor"
	"speed-governor-service/speed"

	"github.com/go-redis/redis/v8"
)

type GovernorApp struct {
	log      *LeveledLogger
	redis    *redis.Client
	ipcTx    *IPCTx
	diag     *Diag
	mailbox  *sensor.Mailbox
	listener *sensor.Listener
	table    speed.TierTable
	policy   speed.Policy
	link     *RobotLink
	loop     *ControlLoop
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// writeDefaultRedisState writes default values to Redis
func (app *GovernorApp) writeDefaultRedisState() {
	app.mu.Lock()
	defer app.mu.Unlock()

	// Until the first cycle runs, the commanded speed is the lowest tier
	speedStatus := RedisSpeedStatus{
		Fraction: app.table.FractionFor(0),
		Tier:     0,
		Policy:   app.policy.Describe(),
	}

	linkStatus := RedisLinkStatus{
		State:    stringifyLinkState(LinkDisconnected),
		Attempts: 0,
	}

	feedStatus := RedisFeedStatus{
		Distance: 0,
		AgeMs:    0,
		Feed:     "none",
	}

	if err := app.ipcTx.SendSpeed(speedStatus); err != nil {
		app.log.Printf("Failed to send default speed status: %v", err)
	}

	if err := app.ipcTx.SendLink(linkStatus); err != nil {
		app.log.Printf("Failed to send default link status: %v", err)
	}

	if err := app.ipcTx.SendFeed(feedStatus); err != nil {
		app.log.Printf("Failed to send default feed status: %v", err)
	}

	app.log.Printf("Default Redis state written")
}

func NewGovernorApp(opts *Options) (*GovernorApp, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &GovernorApp{
		log:    NewLeveledLogger(log.New(log.Writer(), fmt.Sprintf("%s: ", ProjectName), log.LstdFlags), opts.LogLevel),
		ctx:    ctx,
		cancel: cancel,
	}

	// Initialize Redis client with timeouts
	app.redis = redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", opts.RedisServerAddr, opts.RedisServerPort),
		Password:     "",
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	// Test Redis connection with timeout
	connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
	defer connectCancel()

	app.log.Printf("Connecting to Redis at %s:%d...", opts.RedisServerAddr, opts.RedisServerPort)

	if err := app.redis.Ping(connectCtx).Err(); err != nil {
		app.log.Printf("Failed to connect to Redis: %v", err)
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}
	app.log.Printf("Successfully connected to Redis")

	// Initialize components
	app.ipcTx = NewIPCTx(app.log, app.redis)
	app.log.Printf("IPC TX component initialized")

	app.diag = NewDiag(app.log, app.redis)
	app.log.Printf("Diagnostics component initialized")

	// Start health check goroutine
	go app.redisHealthCheck()

	table, err := speed.ParseTierSpec(opts.TierSpec)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tier spec: %v", err)
	}
	app.table = table

	app.policy, err = speed.NewPolicy(opts.PolicyType, speed.Config{
		Logger:       app.log,
		Table:        table,
		MinTimesLow:  opts.MinTimesLow,
		MinTimesHigh: opts.MinTimesHigh,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create speed policy: %v", err)
	}
	app.log.Printf("Speed policy component initialized - selected policy: %s", app.policy.Describe())

	// Write default values to Redis after ipcTx is initialized
	app.writeDefaultRedisState()

	app.mailbox = sensor.NewMailbox()

	app.listener = sensor.NewListener(app.log, sensor.ListenerConfig{
		Host: opts.UDPHost,
		Port: int(opts.UDPPort),
	}, app.mailbox)

	if err := app.listener.Listen(); err != nil {
		return nil, fmt.Errorf("failed to bind distance listener: %v", err)
	}
	app.log.Printf("Distance listener component initialized - bound on %v", app.listener.LocalAddr())

	app.wg.Add(1)
	go app.runListener()

	recipe, err := rtde.LoadRecipe(opts.RecipePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load recipe: %v", err)
	}
	app.log.Printf("Loaded recipe %s (%d inputs, %d outputs)",
		opts.RecipePath, len(recipe.Inputs), len(recipe.Outputs))

	robotAddr := fmt.Sprintf("%s:%d", opts.RobotHost, opts.RobotPort)
	app.link, err = NewRobotLink(app.log, robotAddr, recipe, opts.Frequency, app.diag)
	if err != nil {
		return nil, fmt.Errorf("failed to create robot link: %v", err)
	}
	app.log.Printf("Robot link component initialized - controller at %s", robotAddr)

	app.loop = NewControlLoop(app.log, app.mailbox, app.policy, app.link,
		app.ipcTx, app.diag, opts.Frequency, opts.FeedTimeout)
	app.log.Printf("Control loop component initialized")

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.loop.Run(app.ctx)
	}()

	return app, nil
}

func (app *GovernorApp) runListener() {
	defer app.wg.Done()

	if err := app.listener.Run(app.ctx); err != nil && app.ctx.Err() == nil {
		app.log.Error("Distance listener failed: %v", err)
		app.diag.SetFaultPresence(FaultSensorSocket, true)
	}
}

func (app *GovernorApp) redisHealthCheck() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(app.ctx, 2*time.Second)
			if err := app.redis.Ping(ctx).Err(); err != nil {
				app.log.Printf("Redis health check failed: %v", err)
			}
			cancel()
		}
	}
}

func (app *GovernorApp) Destroy() {
	app.mu.Lock()
	defer app.mu.Unlock()

	app.log.Printf("Shutting down governor application...")

	if app.cancel != nil {
		app.cancel()
	}

	// Let the control loop and listener goroutines drain before tearing
	// down what they use
	app.wg.Wait()

	if app.link != nil {
		app.link.Close()
		app.log.Printf("Robot link shutdown complete")
	}

	if app.listener != nil {
		if err := app.listener.Close(); err != nil {
			app.log.Printf("Error closing distance listener: %v", err)
		} else {
			app.log.Printf("Distance listener shutdown complete")
		}
	}

	if app.diag != nil {
		app.diag.Destroy()
		app.log.Printf("Diagnostics shutdown complete")
	}

	if app.ipcTx != nil {
		app.ipcTx.Destroy()
		app.log.Printf("IPC TX shutdown complete")
	}

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.log.Printf("Error closing Redis connection: %v", err)
		} else {
			app.log.Printf("Redis connection closed")
		}
	}

	app.log.Printf("Governor application shutdown complete")
}
