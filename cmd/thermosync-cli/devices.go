package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/thermosync/internal/mqtt"
	"github.com/joshp123/thermosync/plugins/thermosmart"
)

func invoke(ctx context.Context, conn *grpc.ClientConn, method string, req map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := conn.Invoke(ctx, "/"+thermosmart.ServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func listDevices(ctx context.Context, conn *grpc.ClientConn) []map[string]any {
	resp, err := invoke(ctx, conn, "ListDevices", map[string]any{})
	if err != nil {
		fatal("list devices", err)
	}
	raw, _ := resp["devices"].([]any)
	devices := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if dev, ok := item.(map[string]any); ok {
			devices = append(devices, dev)
		}
	}
	return devices
}

func deviceArg(ctx context.Context, conn *grpc.ClientConn, input string) string {
	devices := listDevices(ctx, conn)
	ids := make([]string, 0, len(devices))
	for _, dev := range devices {
		if id, ok := dev["id"].(string); ok {
			ids = append(ids, id)
		}
	}
	id, err := resolveDeviceID(input, ids)
	if err != nil {
		fatal("resolve device", err)
	}
	return id
}

func devicesCmd(ctx context.Context, conn *grpc.ClientConn, out outputMode) {
	devices := listDevices(ctx, conn)
	if out.json {
		out.printJSON(devices)
		return
	}
	rows := [][]string{{"DEVICE", "TARGET", "ROOM", "PAUSED", "AVAILABLE"}}
	for _, dev := range devices {
		rows = append(rows, deviceRow(dev))
	}
	out.table(rows)
}

func getCmd(ctx context.Context, conn *grpc.ClientConn, args []string, out outputMode) {
	if len(args) < 1 {
		fatal("get", fmt.Errorf("usage: thermosync-cli get <device>"))
	}
	id := deviceArg(ctx, conn, args[0])
	resp, err := invoke(ctx, conn, "GetDevice", map[string]any{"device_id": id})
	if err != nil {
		fatal("get device", err)
	}
	printDevice(resp, out)
}

func setCmd(ctx context.Context, conn *grpc.ClientConn, args []string, out outputMode) {
	if len(args) < 2 {
		fatal("set", fmt.Errorf("usage: thermosync-cli set <device> <temp>"))
	}
	temp, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		fatal("set", fmt.Errorf("invalid temperature %q", args[1]))
	}
	id := deviceArg(ctx, conn, args[0])
	resp, err := invoke(ctx, conn, "SetTargetTemperature", map[string]any{"device_id": id, "target_temperature": temp})
	if err != nil {
		fatal("set", err)
	}
	printDevice(resp, out)
}

func pauseCmd(ctx context.Context, conn *grpc.ClientConn, args []string, out outputMode) {
	if len(args) < 2 {
		fatal("pause", fmt.Errorf("usage: thermosync-cli pause <device> <on|off>"))
	}
	paused, err := mqtt.ParseSwitch(args[1])
	if err != nil {
		fatal("pause", err)
	}
	id := deviceArg(ctx, conn, args[0])
	resp, err := invoke(ctx, conn, "SetPause", map[string]any{"device_id": id, "paused": paused})
	if err != nil {
		fatal("pause", err)
	}
	printDevice(resp, out)
}

func removeCmd(ctx context.Context, conn *grpc.ClientConn, args []string, out outputMode) {
	if len(args) < 1 {
		fatal("remove", fmt.Errorf("usage: thermosync-cli remove <device>"))
	}
	id := deviceArg(ctx, conn, args[0])
	if _, err := invoke(ctx, conn, "RemoveDevice", map[string]any{"device_id": id}); err != nil {
		fatal("remove", err)
	}
	if out.json {
		out.printJSON(map[string]any{"device_id": id, "status": "removed"})
		return
	}
	fmt.Printf("removed: %s\n", id)
}

func printDevice(resp map[string]any, out outputMode) {
	dev, _ := resp["device"].(map[string]any)
	if dev == nil {
		fmt.Fprintln(os.Stderr, "empty response")
		os.Exit(1)
	}
	if out.json {
		out.printJSON(dev)
		return
	}
	out.table([][]string{{"DEVICE", "TARGET", "ROOM", "PAUSED", "AVAILABLE"}, deviceRow(dev)})
}

func deviceRow(dev map[string]any) []string {
	return []string{
		fmt.Sprint(dev["id"]),
		formatTemp(dev["target_temperature"]),
		formatTemp(dev["room_temperature"]),
		formatBool(dev["paused"]),
		formatBool(dev["available"]),
	}
}

func formatTemp(v any) string {
	f, ok := v.(float64)
	if !ok {
		return "-"
	}
	return strings.TrimSuffix(strconv.FormatFloat(f, 'f', 1, 64), ".0") + "°C"
}

func formatBool(v any) string {
	b, ok := v.(bool)
	if !ok {
		return "-"
	}
	if b {
		return "yes"
	}
	return "no"
}
