package felicita

import "github.com/fako1024/gatt"

// A single HCI connection is used, the adapter is chosen automatically
var defaultBTClientOptions = []gatt.Option{
	gatt.LnxMaxConnections(1),
	gatt.LnxDeviceID(-1, true),
}
