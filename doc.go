/*
Package ddnsrelay implements a Dynamic DNS update relay.

A device whose address changes reports it with an authenticated POST,
and the relay makes the provider's A or AAAA record match:
it resolves the zone, looks for an existing record with the same name and type,
overwrites it if there is one and creates it otherwise.
An optional notification (see [Telegram]) reports each change with the address and domain masked as configured.

Usage starts with [New], which needs the shared bearer secret and a provider option such as [UsingCloudflare].
[NewServer] wraps the relay in an HTTP handler:

	relay, err := ddnsrelay.New(secret,
		ddnsrelay.UsingCloudflare(token),
		ddnsrelay.WithZone("example.com", ""),
	)
	...
	http.ListenAndServe(":8080", ddnsrelay.NewServer(relay, "/", nil))

A request body looks like

	{"prefix":"home","ip":"203.0.113.7","type":"A","zone_name":"example.com","node_name":"router"}

and the client side of the exchange lives in package reporter.
*/
package ddnsrelay
