package endpoint

import (
	"fmt"

	"github.com/magiconair/properties"
)

// ParseServers reads a properties document such as
//
//	servers=host1:1463,host2:1463
//
// and returns the listed endpoints. A missing servers key yields def.
func ParseServers(data []byte, def string) ([]Endpoint, error) {
	props, err := properties.Load(data, properties.UTF8)
	if err != nil {
		return nil, fmt.Errorf("parse servers properties: %w", err)
	}
	return ParseList(props.GetString(ServersKey, def)), nil
}
