// Package playground holds the shared vocabulary of the fixture playground:
// fixture ids, the renderer and server message families, the channel names
// they travel on, and the Transport and Core capabilities the router is
// built from.
//
// Sub-packages:
//   - socket: websocket Transport to the dev server
//   - router: routes renderer requests out and renderer/server messages in
//   - bus: in-process publish/subscribe bus handed to router handlers
//   - fixturetree: fixture tree model, rendering and navigation state
//   - fixturestate: fixture state tracking with structural deltas
package playground
