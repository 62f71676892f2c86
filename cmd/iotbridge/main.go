package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/arzzra/iot_bridge/pkg/bridge"
	"github.com/arzzra/iot_bridge/pkg/relay"
	"github.com/arzzra/iot_bridge/pkg/session"
	"github.com/arzzra/iot_bridge/pkg/signaling"
)

func main() {
	var (
		dataListen = flag.String("data-listen", "127.0.0.1:9901", "Адрес приема кадров внешнего интерфейса")
		dataDest   = flag.String("data-dest", "", "Адрес доставки исходящих кадров (UDP); пусто — обучение по источнику")
		transport  = flag.String("transport", "udp", "Транспорт моста данных: tcp или udp")
		mediaDest  = flag.String("media-dest", "", "Адрес внешнего приемника медиа; пусто — отражение в сессию")
		debug      = flag.Bool("debug", false, "Подробный журнал")
	)
	flag.Parse()

	if *debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	if *transport != relay.TransportTCP && *transport != relay.TransportUDP {
		fmt.Printf("Неизвестный транспорт: %s\n", *transport)
		fmt.Println("Доступные транспорты: tcp, udp")
		os.Exit(1)
	}

	config := bridge.DefaultConfig()
	config.Data.Transport = *transport
	config.Data.ListenAddr = *dataListen
	config.Data.Dest = *dataDest
	config.Media.Dest = *mediaDest

	gw := &printGateway{}
	b, err := bridge.New(config, gw)
	if err != nil {
		log.Fatalf("Ошибка сборки моста: %v", err)
	}
	if err := b.Start(); err != nil {
		log.Fatalf("Ошибка запуска моста: %v", err)
	}

	info := b.Info()
	fmt.Printf("%s %s (%s)\n", info.Name, info.VersionString, info.Package)
	if addr := b.DataLocalAddr(); addr != nil {
		fmt.Printf("Мост данных слушает %s\n", addr)
	}

	// Показательный сценарий: одна сессия и пара configure запросов
	const demo session.HandleID = 1
	if err := b.CreateSession(demo); err != nil {
		log.Fatalf("Ошибка создания сессии: %v", err)
	}

	requests := []string{
		`{"audio":true,"video":true}`,
		`{"bitrate":256000}`,
		`{"video":false}`,
		`{"video":true}`,
	}
	for _, body := range requests {
		transaction := uuid.NewString()
		if err := b.HandleMessage(demo, transaction, json.RawMessage(body), nil); err != nil {
			log.Printf("Запрос отвергнут: %v", err)
		}
	}

	// Имитация сигнала о деградации канала
	time.Sleep(100 * time.Millisecond)
	b.SlowLink(demo, false, true)

	snap, err := b.QuerySession(demo)
	if err == nil {
		fmt.Printf("Состояние сессии %d: audio=%v video=%v bitrate=%d slowlinks=%d\n",
			demo, snap.AudioEnabled, snap.VideoEnabled, snap.BitrateCeiling, snap.SlowLinkCount)
	}

	fmt.Println("Мост работает, Ctrl+C для остановки")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Остановка...")
	if err := b.Close(); err != nil {
		log.Printf("Ошибка остановки: %v", err)
	}
}

// printGateway — шлюз хоста для демонстрации: печатает все, что ядро
// отдает наружу
type printGateway struct{}

func (g *printGateway) RelayMediaOut(id session.HandleID, video bool, payload []byte) {
	fmt.Printf("<- медиа сессии %d: video=%v, %d байт\n", id, video, len(payload))
}

func (g *printGateway) RelayRTCPOut(id session.HandleID, video bool, payload []byte) {
	fmt.Printf("<- RTCP сессии %d: video=%v, %d байт\n", id, video, len(payload))
}

func (g *printGateway) RelayDataOut(id session.HandleID, payload []byte) {
	fmt.Printf("<- данные сессии %d: %q\n", id, payload)
}

func (g *printGateway) PushEvent(id session.HandleID, transaction string, event *signaling.Event, jsep *signaling.Negotiation) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if transaction == "" {
		fmt.Printf("<- событие сессии %d: %s\n", id, raw)
		return nil
	}
	fmt.Printf("<- событие сессии %d [%s]: %s\n", id, transaction, raw)
	return nil
}
