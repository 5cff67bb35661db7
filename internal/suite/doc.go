// Package suite discovers unit files and compiles them into runner units.
//
// A unit file is a YAML document whose base name starts with a digit, for
// example 01_create_room.yaml:
//
//	name: create a room
//	provides: [room]
//	do:
//	  - client: 0
//	    tool: create_room
//	    args: {name: general}
//	    bind: room
//	check:
//	  - client: 1
//	    tool: list_rooms
//	    expect:
//	      contains: ["{{ room.id }}"]
//	wait_time: 5
//
// Steps call tools through the sessions bound under the clients entry.
// Arguments and expectations may reference the unit's requires, and names
// bound by earlier do steps, with {{ name.path }} placeholders.
package suite
