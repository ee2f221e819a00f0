// Command rosnode is a minimal talker/listener sample driving ros.Node
// directly, the way a hand-written embedding program would. It reads
// ROS_MASTER_URI/ROS_HOSTNAME/ROS_IP and any "from:=to" remap arguments
// itself — the core package never looks at the environment or argv.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/qianqian121/cros/ros"
)

// stringMessage is a bare-bones std_msgs/String stand-in: one length-
// prefixed-by-the-wire-framing UTF-8 field, enough to exercise a full
// publish/subscribe round trip without pulling in a real .msg compiler.
type stringMessage struct {
	Data string
}

func (m *stringMessage) GetType() ros.MessageType   { return stringMessageType{} }
func (m *stringMessage) Serialize(buf *bytes.Buffer) error {
	buf.WriteString(m.Data)
	return nil
}
func (m *stringMessage) Deserialize(buf *bytes.Reader) error {
	b := make([]byte, buf.Len())
	_, err := buf.Read(b)
	m.Data = string(b)
	return err
}

type stringMessageType struct{}

func (stringMessageType) Text() string   { return "string data\n" }
func (stringMessageType) MD5Sum() string { return "992ce8a1687cec8c8bd883ec73ca41d1" }
func (stringMessageType) Name() string   { return "std_msgs/String" }
func (stringMessageType) NewMessage() ros.Message { return &stringMessage{} }

func main() {
	mode := flag.NewFlagSet("rosnode", flag.ExitOnError)
	topic := mode.String("topic", "/chatter", "topic to publish or subscribe")
	rate := mode.Duration("rate", time.Second, "talker publish period")
	mode.Parse(remapPositionals(os.Args[1:]))

	if mode.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: rosnode [flags] <talker|listener>")
		os.Exit(2)
	}

	cfg, name, err := configFromEnvironment(os.Args[1:])
	if err != nil {
		log.Fatalf("rosnode: %v", err)
	}
	cfg.CallerID = name

	n, err := ros.NewNode(cfg)
	if err != nil {
		log.Fatalf("rosnode: new node: %v", err)
	}
	defer n.Shutdown()

	switch mode.Arg(0) {
	case "talker":
		runTalker(n, *topic, *rate)
	case "listener":
		runListener(n, *topic)
	default:
		log.Fatalf("rosnode: unknown mode %q", mode.Arg(0))
	}
}

func runTalker(n *ros.Node, topic string, rate time.Duration) {
	msgType := stringMessageType{}
	count := 0
	pub, err := n.NewPublisher(topic, msgType.Name(), msgType.MD5Sum(), rate, func(buf *bytes.Buffer, _ interface{}) error {
		count++
		msg := &stringMessage{Data: fmt.Sprintf("hello world %d", count)}
		return msg.Serialize(buf)
	})
	if err != nil {
		log.Fatalf("rosnode: new publisher: %v", err)
	}
	n.Logger().Infof("talker: publishing %s on %s", msgType.Name(), pub.Topic)
	n.Spin()
}

func runListener(n *ros.Node, topic string) {
	msgType := stringMessageType{}
	_, err := n.NewSubscriber(topic, msgType.Name(), msgType.MD5Sum(), func(buf *bytes.Reader, _ interface{}) error {
		msg := &stringMessage{}
		if err := msg.Deserialize(buf); err != nil {
			return err
		}
		n.Logger().Infof("listener: received %q", msg.Data)
		return nil
	})
	if err != nil {
		log.Fatalf("rosnode: new subscriber: %v", err)
	}
	n.Spin()
}

// remapPositionals strips "from:=to" remap tokens from argv before
// handing the rest, mode word included, to the flag package, which
// doesn't know about ROS's remap convention.
func remapPositionals(argv []string) []string {
	positional, _ := ros.ParseRemapArgs(argv)
	return positional
}

// configFromEnvironment builds a NodeConfig from ROS_MASTER_URI,
// ROS_HOSTNAME/ROS_IP, and any __name/__ip/__hostname/__master remap
// arguments, which take precedence over the environment per ROS
// convention. This is the only place in the whole program that reads
// either os.Environ or argv for node configuration.
func configFromEnvironment(argv []string) (ros.NodeConfig, string, error) {
	_, remaps := ros.ParseRemapArgs(argv)

	masterURI := os.Getenv("ROS_MASTER_URI")
	if v, ok := remaps["__master"]; ok {
		masterURI = v
	}
	if masterURI == "" {
		masterURI = "http://localhost:11311/"
	}
	u, err := url.Parse(masterURI)
	if err != nil {
		return ros.NodeConfig{}, "", fmt.Errorf("bad ROS_MASTER_URI %q: %w", masterURI, err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return ros.NodeConfig{}, "", fmt.Errorf("bad ROS_MASTER_URI port in %q: %w", masterURI, err)
	}

	host := os.Getenv("ROS_IP")
	if host == "" {
		host = os.Getenv("ROS_HOSTNAME")
	}
	if v, ok := remaps["__ip"]; ok {
		host = v
	}
	if v, ok := remaps["__hostname"]; ok {
		host = v
	}

	name := "/rosnode"
	if v, ok := remaps["__name"]; ok {
		name = "/" + v
	}

	return ros.NodeConfig{
		MasterHost: u.Hostname(),
		MasterPort: port,
		Host:       host,
	}, name, nil
}
